package bloom

import "testing"

func TestSlicedBloomFilterNoFalseNegatives(t *testing.T) {
	values := []int64{1, 42, 100, 9999, -7, 0}
	f := NewSlicedBloomFilter(len(values), 0.1)
	for _, v := range values {
		f.Add(v)
	}
	for _, v := range values {
		if !f.Test(v) {
			t.Fatalf("value %d should test positive after Add", v)
		}
	}
}

func TestFilterParamsMonotonicInRate(t *testing.T) {
	kLoose, mLoose := FilterParams(1000, 0.3)
	kTight, mTight := FilterParams(1000, 0.01)
	if kTight < kLoose {
		t.Fatalf("tighter rate should need at least as many slices: %d < %d", kTight, kLoose)
	}
	if mTight*kTight < mLoose*kLoose {
		t.Fatalf("tighter rate should need at least as many total bits")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewSlicedBloomFilter(10, 0.2)
	for i := int64(0); i < 10; i++ {
		f.Add(i)
	}
	data, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if payload.BitsPerSlice != f.BitsPerSlice {
		t.Fatalf("bits per slice = %d, want %d", payload.BitsPerSlice, f.BitsPerSlice)
	}
	if len(payload.SetBits) != f.NumSlices {
		t.Fatalf("slices = %d, want %d", len(payload.SetBits), f.NumSlices)
	}
}

func TestSQLPredicateIsConjunctionOfSlices(t *testing.T) {
	f := NewSlicedBloomFilter(5, 0.25)
	for i := int64(0); i < 5; i++ {
		f.Add(i)
	}
	data, err := Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	pred := payload.SQLPredicate("user_id")
	if pred == "" {
		t.Fatal("expected non-empty predicate")
	}
	if got, want := len(payload.SetBits), f.NumSlices; got != want {
		t.Fatalf("slices in predicate = %d, want %d", got, want)
	}
}

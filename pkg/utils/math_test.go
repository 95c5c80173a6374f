package utils

import (
	"math"
	"reflect"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	NormalizeL2(v)
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("got %v", v)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestFloat32Bytes(t *testing.T) {
	v := []float32{0, 1.5, -2.25, float32(math.Pi)}
	b := Float32sToBytes(v)
	if len(b) != 16 {
		t.Fatalf("len = %d", len(b))
	}
	if got := BytesToFloat32s(b); !reflect.DeepEqual(got, v) {
		t.Errorf("got %v, want %v", got, v)
	}
	if got := BytesToFloat32s(b[:6]); len(got) != 1 {
		t.Errorf("partial value should be dropped, got %v", got)
	}
}

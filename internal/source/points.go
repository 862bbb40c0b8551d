package source

import (
	"github.com/tidwall/gjson"

	"github.com/relabs-tech/cycle_tracker/internal/geometry"
)

// arrayKeys are the object fields that may hold a position array.
var arrayKeys = []string{"pos", "position", "p"}

// pointFromResult reads a position from a bare [x,y,z] array, an {x,y,z}
// object or an object holding a pos/position/p array.
func pointFromResult(v gjson.Result) (geometry.Point3D, bool) {
	if v.IsArray() {
		return pointFromArray(v)
	}
	if !v.IsObject() {
		return geometry.Point3D{}, false
	}

	if p, ok := pointFromFields(v); ok {
		return p, true
	}
	for _, key := range arrayKeys {
		if arr := v.Get(key); arr.IsArray() {
			return pointFromArray(arr)
		}
	}
	return geometry.Point3D{}, false
}

// pointFromFields reads numeric "x", "y" and "z" fields.
func pointFromFields(v gjson.Result) (geometry.Point3D, bool) {
	x, y, z := v.Get("x"), v.Get("y"), v.Get("z")
	if x.Type != gjson.Number || y.Type != gjson.Number || z.Type != gjson.Number {
		return geometry.Point3D{}, false
	}
	return geometry.NewPoint(x.Num, y.Num, z.Num), true
}

// pointFromArray reads the first three elements of a numeric array.
func pointFromArray(v gjson.Result) (geometry.Point3D, bool) {
	elems := v.Array()
	if len(elems) < 3 {
		return geometry.Point3D{}, false
	}
	var xyz [3]float64
	for i := range xyz {
		if elems[i].Type != gjson.Number {
			return geometry.Point3D{}, false
		}
		xyz[i] = elems[i].Num
	}
	return geometry.NewPoint(xyz[0], xyz[1], xyz[2]), true
}

package s3trace

import (
	"fmt"
	"reflect"
)

// FieldGetter: запрос, который умеет сам отдавать значение поля по имени.
type FieldGetter interface {
	GetField(name string) (string, bool)
}

// Field возвращает текстовое значение поля name из запроса req.
// Отсутствие поля или nil-значение считается нормальным исходом (false), а не ошибкой.
func Field(req interface{}, name string) (string, bool) {
	switch r := req.(type) {
	case nil:
		return "", false
	case FieldGetter:
		return r.GetField(name)
	case map[string]string:
		v, ok := r[name]
		return v, ok
	case map[string]interface{}:
		v, ok := r[name]
		if !ok {
			return "", false
		}
		return text(reflect.ValueOf(v))
	}

	v := indirect(reflect.ValueOf(req))
	if !v.IsValid() || v.Kind() != reflect.Struct {
		return "", false
	}

	sf, ok := v.Type().FieldByName(name)
	if !ok || !sf.IsExported() {
		return "", false
	}

	return text(v.FieldByIndex(sf.Index))
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}

	return v
}

var stringerType = reflect.TypeFor[fmt.Stringer]()

func text(v reflect.Value) (string, bool) {
	if !v.IsValid() {
		return "", false
	}

	if v.Type().Implements(stringerType) && v.CanInterface() {
		if (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) && v.IsNil() {
			return "", false
		}
		return v.Interface().(fmt.Stringer).String(), true
	}

	v = indirect(v)
	if !v.IsValid() {
		return "", false
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return fmt.Sprint(v.Interface()), true
	default:
		return "", false
	}
}

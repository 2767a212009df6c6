package websocket

import (
	"fmt"
	"reflect"

	"tomoboard-server/collab"
)

type ackInvoker func(payload map[string]any)

func ackPayload(err error) map[string]any {
	if err == nil {
		return map[string]any{"status": "ok"}
	}
	evErr := collab.AsEventError(err)
	return map[string]any{
		"status": "error",
		"error":  evErr.Message,
		"code":   string(evErr.Code),
	}
}

// extractAck splits a trailing acknowledgement callback off the event arguments.
func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}

	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

func wrapAck(candidate any) ackInvoker {
	switch fn := candidate.(type) {
	case nil:
		return nil
	case func(...any):
		return func(payload map[string]any) { fn(payload) }
	case func([]any, error):
		return func(payload map[string]any) { fn([]any{payload}, nil) }
	}

	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(payload map[string]any) {
		value.Call(buildAckArgs(typ, payload))
	}
}

// buildAckArgs passes the payload as the first argument a callback can take and zero
// values for the rest.
func buildAckArgs(typ reflect.Type, payload map[string]any) []reflect.Value {
	numIn := typ.NumIn()
	if typ.IsVariadic() {
		numIn--
	}

	args := make([]reflect.Value, numIn)
	for i := 0; i < numIn; i++ {
		if i == 0 {
			args[i] = coerceValue(payload, typ.In(i))
		} else {
			args[i] = reflect.Zero(typ.In(i))
		}
	}
	if typ.IsVariadic() && numIn == 0 {
		elem := typ.In(0).Elem()
		args = append(args, coerceValue(payload, elem))
	}
	return args
}

func coerceValue(value map[string]any, targetType reflect.Type) reflect.Value {
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(targetType):
		return rv
	case targetType.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value["status"])).Convert(targetType)
	case targetType.Kind() == reflect.Map && targetType.Key().Kind() == reflect.String:
		return convertMap(value, targetType)
	}
	return reflect.Zero(targetType)
}

func convertMap(source map[string]any, targetType reflect.Type) reflect.Value {
	result := reflect.MakeMapWithSize(targetType, len(source))
	for key, val := range source {
		keyValue := reflect.ValueOf(key).Convert(targetType.Key())
		valueValue := reflect.ValueOf(val)
		if !valueValue.Type().AssignableTo(targetType.Elem()) {
			if !valueValue.Type().ConvertibleTo(targetType.Elem()) {
				continue
			}
			valueValue = valueValue.Convert(targetType.Elem())
		}
		result.SetMapIndex(keyValue, valueValue)
	}
	return result
}

package s3trace

import (
	"reflect"
	"strings"

	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// CallDescriptor описывает перехватываемый вызов: тип-владелец, имя метода
// и типы позиционных параметров. Заполняется адаптером хоста (smithy, gRPC).
type CallDescriptor struct {
	Type   string
	Method string
	Params []string
}

// InterceptionRule выбирает вызовы, для которых публикуются атрибуты.
type InterceptionRule struct {
	// TargetType сравнивается с CallDescriptor.Type на точное равенство
	TargetType string
	// MethodPrefix должен быть префиксом имени метода
	MethodPrefix string
	// ParamTypes: ограничения на типы параметров по позициям
	ParamTypes []string
}

var (
	// HTTPRequestType: тип HTTP-запроса smithy, первый параметр операции SDK.
	HTTPRequestType = TypeName(reflect.TypeFor[*smithyhttp.Request]())
	// GenericRequestType: объявленный тип входных параметров операции (middleware.*Input.Parameters).
	GenericRequestType = TypeName(reflect.TypeFor[interface{}]())
)

// DefaultRule перехватывает все операции клиента S3 из AWS SDK v2.
var DefaultRule = NewRule("S3", "invoke", HTTPRequestType, GenericRequestType)

// NewRule создаёт правило. Срез типов копируется, правило неизменяемо.
func NewRule(targetType, methodPrefix string, paramTypes ...string) InterceptionRule {
	return InterceptionRule{
		TargetType:   targetType,
		MethodPrefix: methodPrefix,
		ParamTypes:   append([]string(nil), paramTypes...),
	}
}

// Matches сообщает, подходит ли вызов под правило. Не имеет побочных эффектов.
func (r InterceptionRule) Matches(call CallDescriptor) bool {
	if call.Type != r.TargetType {
		return false
	}

	if !strings.HasPrefix(call.Method, r.MethodPrefix) {
		return false
	}

	if len(call.Params) < len(r.ParamTypes) {
		return false
	}

	for i, want := range r.ParamTypes {
		if call.Params[i] != want {
			return false
		}
	}

	return true
}

// TypeName возвращает полное имя типа с путём пакета, например
// "*github.com/aws/smithy-go/transport/http.Request". Для безымянных типов
// используется reflect.Type.String().
func TypeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}

	prefix := ""
	for t.Kind() == reflect.Pointer && t.Name() == "" {
		prefix += "*"
		t = t.Elem()
	}

	if t.Name() == "" || t.PkgPath() == "" {
		return prefix + t.String()
	}

	return prefix + t.PkgPath() + "." + t.Name()
}

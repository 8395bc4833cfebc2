package runtime

import (
	"regexp"
	"strings"

	"github.com/dop251/goja"

	"github.com/northcloud/jobforge/internal/domain"
)

// scriptErrorTypes are the named error constructors §4.2 requires the
// runtime to pre-register, reachable from the script as ordinary
// `new AuthenticationError("...")` instances with an Error-like shape.
var scriptErrorTypes = []domain.ScriptErrorSubkind{
	domain.ScriptAuthenticationError,
	domain.ScriptAuthorizationError,
	domain.ScriptNetworkError,
	domain.ScriptHTTPError,
	domain.ScriptValidationError,
	domain.ScriptConfigurationError,
	domain.ScriptRateLimitError,
	domain.ScriptServiceUnavailable,
	domain.ScriptTimeoutError,
	domain.ScriptDataError,
}

// registerErrorTypes defines each named error type as a JS function whose
// instances subclass Error, so the script's `catch (e) { e instanceof
// NetworkError }` and `${e.name}: ${e.message}` both work as documented.
func registerErrorTypes(vm *goja.Runtime) {
	for _, kind := range scriptErrorTypes {
		name := string(kind)
		src := `(function ` + name + `(message) {
			Error.call(this, message);
			this.name = ` + "`" + name + "`" + `;
			this.message = message;
			if (Error.captureStackTrace) { Error.captureStackTrace(this, ` + name + `); }
		})`
		ctor, err := vm.RunString(src)
		if err != nil {
			continue
		}
		if obj := ctor.ToObject(vm); obj != nil {
			proto := vm.NewObject()
			_ = proto.SetPrototype(vm.Get("Error").ToObject(vm).Get("prototype").ToObject(vm))
			_ = obj.Set("prototype", proto)
		}
		_ = vm.Set(name, ctor)
	}
}

func scriptConstructorFor(kind domain.ScriptErrorSubkind) string {
	if kind == "" {
		return string(domain.ScriptUnknownError)
	}
	return string(kind)
}

// errShape matches the "name: message" rendering goja produces for a thrown
// Error-like object, e.g. "NetworkError: connection refused".
var errShape = regexp.MustCompile(`^(\w+):\s*(.*)$`)

// parseScriptError converts an uncaught script exception into a typed
// domain.Error, matching its `name: message` shape per §4.2; anything that
// doesn't parse becomes UnknownError.
func parseScriptError(err error) *domain.Error {
	msg := err.Error()
	if exc, ok := err.(*goja.Exception); ok {
		msg = exc.Value().String()
	}

	if m := errShape.FindStringSubmatch(msg); m != nil {
		name, detail := m[1], m[2]
		if isKnownSubkind(name) {
			return &domain.Error{
				Kind:          domain.KindScriptError,
				ScriptSubkind: domain.ScriptErrorSubkind(name),
				Message:       detail,
			}
		}
	}

	return &domain.Error{
		Kind:          domain.KindScriptError,
		ScriptSubkind: domain.ScriptUnknownError,
		Message:       strings.TrimSpace(msg),
	}
}

func isKnownSubkind(name string) bool {
	for _, k := range scriptErrorTypes {
		if string(k) == name {
			return true
		}
	}
	return name == string(domain.ScriptUnknownError)
}

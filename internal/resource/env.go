package resource

import "os"

// Имена переменных окружения, через которые placement-слой
// передаёт контейнеру выданный бюджет ресурсов.
const (
	// EnvCPURequest — CPU quantity строка (например, "500m").
	EnvCPURequest = "CPU_REQUEST"

	// EnvMemoryRequest — memory quantity строка (например, "500Mi").
	EnvMemoryRequest = "MEMORY_REQUEST"
)

// Environ — источник переменных окружения.
//
// Абстракция позволяет тестам подставлять значения без мутации
// реального окружения процесса. Семантика как у os.LookupEnv:
// ok=false означает, что переменная не установлена.
type Environ interface {
	Lookup(key string) (value string, ok bool)
}

// OSEnviron читает реальное окружение процесса.
type OSEnviron struct{}

// Lookup реализует Environ через os.LookupEnv.
func (OSEnviron) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnviron — источник окружения на основе map (для тестов).
type MapEnviron map[string]string

// Lookup реализует Environ.
func (m MapEnviron) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

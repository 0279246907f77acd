package resource

import (
	"errors"
	"strconv"
	"strings"
)

// Dimension — измерение ресурса.
type Dimension string

const (
	// DimensionCPU — доля ядер CPU.
	DimensionCPU Dimension = "cpu"

	// DimensionMemory — память в байтах.
	DimensionMemory Dimension = "memory"
)

// Ошибки парсинга resource quantity строк.
var (
	// ErrEmptyQuantity — пустая строка.
	ErrEmptyQuantity = errors.New("empty resource quantity")

	// ErrMalformedQuantity — не-числовой префикс или неизвестный суффикс.
	ErrMalformedQuantity = errors.New("malformed resource quantity")
)

// ParseError — ошибка парсинга с контекстом.
type ParseError struct {
	Dimension Dimension // измерение, для которого парсилась строка
	Input     string    // исходная строка
	Err       error     // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ParseError) Error() string {
	return "parse " + string(e.Dimension) + " quantity " + strconv.Quote(e.Input) + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *ParseError) Unwrap() error {
	return e.Err
}

func newParseError(dim Dimension, input string, err error) *ParseError {
	return &ParseError{Dimension: dim, Input: input, Err: err}
}

// Бинарные суффиксы памяти: степени 1024.
var binarySuffixes = map[string]int64{
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
}

// Десятичные суффиксы памяти: степени 1000.
var decimalSuffixes = map[string]int64{
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
}

// ParseCPU преобразует orchestrator-строку CPU в долю ядер.
//
// Суффикс "m" обозначает millicores: "500m" → 0.5.
// Без суффикса значение трактуется как целые ядра: "2" → 2.0,
// дробные значения ("1.5") тоже допустимы.
//
// Чистая функция без побочных эффектов.
func ParseCPU(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, newParseError(DimensionCPU, s, ErrEmptyQuantity)
	}

	if milli, ok := strings.CutSuffix(s, "m"); ok {
		n, err := strconv.ParseInt(milli, 10, 64)
		if err != nil {
			return 0, newParseError(DimensionCPU, s, ErrMalformedQuantity)
		}
		return float64(n) / 1000.0, nil
	}

	cores, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, newParseError(DimensionCPU, s, ErrMalformedQuantity)
	}
	return cores, nil
}

// ParseMemory преобразует orchestrator-строку памяти в байты.
//
// Бинарные суффиксы (Ki, Mi, Gi, Ti) масштабируют степенями 1024,
// десятичные (K, M, G, T) — степенями 1000. Строка без суффикса —
// количество байт: "500Mi" → 524288000, "1K" → 1000, "42" → 42.
//
// Чистая функция без побочных эффектов.
func ParseMemory(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, newParseError(DimensionMemory, s, ErrEmptyQuantity)
	}

	num, scale := splitMemorySuffix(s)
	if scale == 0 {
		return 0, newParseError(DimensionMemory, s, ErrMalformedQuantity)
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, newParseError(DimensionMemory, s, ErrMalformedQuantity)
	}
	return n * scale, nil
}

// splitMemorySuffix отделяет числовой префикс от единичного суффикса.
// Возвращает scale=0 для неизвестного суффикса.
func splitMemorySuffix(s string) (num string, scale int64) {
	for suffix, mult := range binarySuffixes {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			return n, mult
		}
	}
	for suffix, mult := range decimalSuffixes {
		if n, ok := strings.CutSuffix(s, suffix); ok {
			return n, mult
		}
	}
	// Без суффикса — байты как есть.
	return s, 1
}

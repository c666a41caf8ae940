// Пакет parser — декодирование загруженных файлов в упорядоченную
// последовательность полей-отображений. Без валидации и без I/O.
//
// Поддерживаются два формата: табличный CSV (первая строка — заголовок)
// и JSON-массив объектов; одиночный JSON-объект оборачивается
// в последовательность из одного элемента.
package parser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Format — формат загруженного файла.
type Format string

const (
	// FormatCSV — табличный формат с разделителями, первая строка — заголовок.
	FormatCSV Format = "csv"
	// FormatJSON — массив объектов или одиночный объект.
	FormatJSON Format = "json"
)

// ErrUnsupportedFormat — расширение файла не распознано.
// Обнаруживается на пути запроса, до резервирования импорта.
var ErrUnsupportedFormat = errors.New("неподдерживаемый формат файла (ожидается .csv или .json)")

// ParseError — структурная ошибка разбора. Фатальна для всего импорта,
// в отличие от ошибок валидации отдельных записей.
type ParseError struct {
	// Reason — описание причины
	Reason string
	// Offset — смещение в байтах или номер строки, если известно (-1 — неизвестно)
	Offset int64
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("ошибка разбора: %s (offset %d)", e.Reason, e.Offset)
	}
	return "ошибка разбора: " + e.Reason
}

// Mapping — одно поле-отображение: значения одной записи по именам полей.
type Mapping map[string]any

// DetectFormat определяет формат по расширению имени файла.
func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Parse декодирует содержимое файла в последовательность отображений,
// сохраняя входной порядок. Разбор энергичный: размер файла ограничен
// на пути запроса, ленивость ничего не экономит.
func Parse(data []byte, format Format) ([]Mapping, error) {
	switch format {
	case FormatCSV:
		return parseCSV(data)
	case FormatJSON:
		return parseJSON(data)
	default:
		return nil, ErrUnsupportedFormat
	}
}

// parseCSV разбирает табличный файл: первая строка — заголовок,
// каждая последующая склеивается с ним в отображение.
func parseCSV(data []byte) ([]Mapping, error) {
	if !utf8.Valid(data) {
		return nil, &ParseError{Reason: "содержимое не является корректным UTF-8", Offset: -1}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, &ParseError{Reason: "пустой файл: отсутствует строка заголовка", Offset: 0}
		}
		return nil, csvParseError(err)
	}

	var result []Mapping
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Некорректная строка (в т.ч. несовпадение числа полей) —
			// структурная ошибка, фатальная для импорта
			return nil, csvParseError(err)
		}

		m := make(Mapping, len(header))
		for i, name := range header {
			m[name] = row[i]
		}
		result = append(result, m)
	}

	return result, nil
}

// csvParseError преобразует ошибку encoding/csv в ParseError,
// перенося номер строки, если он известен.
func csvParseError(err error) *ParseError {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &ParseError{
			Reason: fmt.Sprintf("некорректная CSV-строка %d: %v", csvErr.Line, csvErr.Err),
			Offset: int64(csvErr.Line),
		}
	}
	return &ParseError{Reason: err.Error(), Offset: -1}
}

// parseJSON разбирает массив объектов; одиночный объект
// оборачивается в последовательность из одного элемента.
func parseJSON(data []byte) ([]Mapping, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, &ParseError{Reason: "пустой файл", Offset: 0}
	}

	if trimmed[0] == '[' {
		var items []Mapping
		if err := unmarshalStrict(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var single Mapping
	if err := unmarshalStrict(data, &single); err != nil {
		return nil, err
	}
	return []Mapping{single}, nil
}

// unmarshalStrict десериализует JSON, перенося байтовое смещение
// синтаксической ошибки в ParseError.
func unmarshalStrict(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return &ParseError{Reason: syntaxErr.Error(), Offset: syntaxErr.Offset}
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &ParseError{
				Reason: fmt.Sprintf("неожиданный тип JSON: %v", typeErr),
				Offset: typeErr.Offset,
			}
		}
		return &ParseError{Reason: err.Error(), Offset: -1}
	}
	return nil
}

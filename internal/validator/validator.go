// Пакет validator — классификация разобранных записей.
// Валидация никогда не возвращает ошибку: любой исход выражается
// статусом записи и текстом error_message.
package validator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bigkaa/dataimport/internal/domain/model"
	"github.com/bigkaa/dataimport/internal/parser"
)

// Validator проверяет поля записи по правилам предметной области.
type Validator struct {
	// StrictAge — отклонять записи с некорректным age вместо
	// коэрции к нулю с мягким предупреждением
	StrictAge bool
}

// New создает валидатор.
func New(strictAge bool) *Validator {
	return &Validator{StrictAge: strictAge}
}

// Validate классифицирует одно поле-отображение и возвращает запись
// со статусом и, при необходимости, текстом ошибки или предупреждения.
// Поле raw_data всегда заполняется сериализованным исходным отображением.
func (v *Validator) Validate(m parser.Mapping) model.Record {
	raw, err := json.Marshal(m)
	if err != nil {
		// Отображение из парсера практически всегда сериализуемо,
		// но NaN/Inf из JSON-чисел сюда не попадают только по договоренности
		msg := "не удалось сериализовать исходные данные: " + err.Error()
		return model.Record{
			RawData:      []byte("{}"),
			Status:       model.RecordStatusError,
			ErrorMessage: &msg,
		}
	}

	rec := model.Record{
		RawData: raw,
		Status:  model.RecordStatusValid,
	}

	var problems []string

	name := stringField(m, "name")
	if strings.TrimSpace(name) == "" {
		problems = append(problems, "поле name отсутствует или пустое")
	}

	email := stringField(m, "email")
	if reason, ok := checkEmail(email); !ok {
		problems = append(problems, reason)
	}

	ageWarning := v.checkAge(m, &problems)

	if len(problems) > 0 {
		msg := strings.Join(problems, "; ")
		rec.Status = model.RecordStatusInvalid
		rec.ErrorMessage = &msg
		return rec
	}

	if ageWarning != "" {
		// Мягкое предупреждение: статус остается valid
		rec.ErrorMessage = &ageWarning
	}

	return rec
}

// checkAge проверяет поле age. В нестрогом режиме отсутствующее или
// некорректное значение коэрцируется к нулю, возвращается текст
// предупреждения; в строгом режиме проблема добавляется в problems.
func (v *Validator) checkAge(m parser.Mapping, problems *[]string) string {
	val, present := m["age"]
	if !present || val == nil {
		return ""
	}

	reason, ok := checkAgeValue(val)
	if ok {
		return ""
	}
	if v.StrictAge {
		*problems = append(*problems, reason)
		return ""
	}
	return fmt.Sprintf("%s; значение заменено на 0", reason)
}

// checkAgeValue проверяет, что значение age — неотрицательное целое.
func checkAgeValue(val any) (reason string, ok bool) {
	switch t := val.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return "", true
		}
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return fmt.Sprintf("поле age %q не является целым числом", t), false
		}
		if n < 0 {
			return fmt.Sprintf("поле age отрицательно (%d)", n), false
		}
		return "", true
	case float64:
		if t != float64(int64(t)) {
			return fmt.Sprintf("поле age %v не является целым числом", t), false
		}
		if t < 0 {
			return fmt.Sprintf("поле age отрицательно (%v)", t), false
		}
		return "", true
	default:
		return fmt.Sprintf("поле age имеет неподдерживаемый тип %T", val), false
	}
}

// checkEmail проверяет структуру email: ровно один @ с непустыми
// локальной частью и доменом.
func checkEmail(email string) (reason string, ok bool) {
	if email == "" {
		return "поле email отсутствует или пустое", false
	}
	if strings.Count(email, "@") != 1 {
		return fmt.Sprintf("email %q должен содержать ровно один символ @", email), false
	}
	at := strings.Index(email, "@")
	if at == 0 {
		return fmt.Sprintf("email %q не содержит локальной части", email), false
	}
	if at == len(email)-1 {
		return fmt.Sprintf("email %q не содержит домена", email), false
	}
	return "", true
}

// stringField возвращает строковое представление поля отображения.
func stringField(m parser.Mapping, key string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprint(val)
}

// EmbedText собирает текст для векторизации из валидной записи:
// все непустые поля в виде "ключ: значение", соединенные через " | ".
// Ключи сортируются, чтобы текст был детерминирован независимо от
// порядка обхода отображения.
func EmbedText(m parser.Mapping) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		val := strings.TrimSpace(stringField(m, k))
		if val == "" {
			continue
		}
		parts = append(parts, k+": "+val)
	}
	return strings.Join(parts, " | ")
}

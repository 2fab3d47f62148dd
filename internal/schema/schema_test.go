package schema

import (
	"errors"
	"testing"

	"formkeep/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func allTypeFields() []models.Field {
	return []models.Field{
		{ID: "1", Name: "Title", Type: models.FieldTypeText},
		{ID: "2", Name: "Age", Type: models.FieldTypeNumber},
		{ID: "3", Name: "Born", Type: models.FieldTypeDate},
		{ID: "4", Name: "Colour", Type: models.FieldTypeSelect, Options: []models.Option{
			{Name: "Red", Value: "red-0", DisplayOrder: 1},
			{Name: "Blue", Value: "blue-1", DisplayOrder: 2},
		}},
		{ID: "5", Name: "Size", Type: models.FieldTypeRadio, Options: []models.Option{
			{Name: "S", Value: "s", DisplayOrder: 1},
			{Name: "L", Value: "l", DisplayOrder: 2},
		}},
		{ID: "6", Name: "Agree", Type: models.FieldTypeCheckbox},
		{ID: "7", Name: "Active", Type: models.FieldTypeBoolean},
	}
}

func TestDeriveDefaults(t *testing.T) {
	got := DeriveDefaults(allTypeFields(), nil)

	assert.Equal(t, "", got["1"])
	assert.Equal(t, "", got["2"])
	_, hasDate := got["3"]
	assert.False(t, hasDate, "date fields start absent")
	assert.Equal(t, "", got["4"])
	assert.Equal(t, "", got["5"])
	assert.Equal(t, false, got["6"])
	assert.Equal(t, false, got["7"])
}

func TestDeriveDefaultsKeepsExisting(t *testing.T) {
	existing := models.Values{"1": "hello", "3": "2024-01-02", "6": true, "7": nil, "99": "stray"}
	got := DeriveDefaults(allTypeFields(), existing)

	assert.Equal(t, "hello", got["1"])
	assert.Equal(t, "2024-01-02", got["3"])
	assert.Equal(t, true, got["6"])
	assert.Equal(t, false, got["7"], "nil is not a defined value")
	_, hasStray := got["99"]
	assert.False(t, hasStray, "only template fields are derived")
}

func TestDeriveDefaultsIdempotent(t *testing.T) {
	fields := allTypeFields()
	once := DeriveDefaults(fields, nil)
	twice := DeriveDefaults(fields, once)
	assert.Equal(t, once, twice)

	edited := DeriveDefaults(fields, models.Values{"2": 42.0})
	assert.Equal(t, edited, DeriveDefaults(fields, edited))
}

func TestValidateOptionalFieldsNeverFail(t *testing.T) {
	fields := allTypeFields()
	for _, values := range []models.Values{
		nil,
		{},
		{"1": "", "2": "", "4": ""},
		{"1": "x", "2": "not a number", "6": "weird"},
	} {
		res := Validate(fields, values)
		assert.True(t, res.Valid)
		assert.Empty(t, res.Errors)
		assert.NoError(t, res.Err())
	}
}

func TestValidateRequired(t *testing.T) {
	for _, ft := range models.FieldTypes() {
		t.Run(ft.String(), func(t *testing.T) {
			field := models.Field{ID: "1", Name: "Thing", Type: ft, Required: true}
			fields := []models.Field{field}

			res := Validate(fields, models.Values{})
			assert.False(t, res.Valid)
			assert.Equal(t, "Thing is required", res.Errors["1"])

			res = Validate(fields, models.Values{"1": ""})
			assert.False(t, res.Valid)
			assert.Contains(t, res.Errors, "1")

			res = Validate(fields, models.Values{"1": nil})
			assert.False(t, res.Valid)

			res = Validate(fields, models.Values{"1": "x"})
			assert.True(t, res.Valid)
			assert.Empty(t, res.Errors)
		})
	}
}

func TestValidateFalseIsPresent(t *testing.T) {
	fields := []models.Field{{ID: "1", Name: "Agree", Type: models.FieldTypeCheckbox, Required: true}}
	assert.True(t, Validate(fields, models.Values{"1": false}).Valid)
}

func TestValidateScenario(t *testing.T) {
	fields := []models.Field{{ID: "1", Name: "Age", Type: models.FieldTypeNumber, Required: true}}

	res := Validate(fields, models.Values{})
	require.False(t, res.Valid)
	assert.Contains(t, res.Errors, "1")

	var verr *ValidationError
	require.ErrorAs(t, res.Err(), &verr)
	assert.Equal(t, "Age is required", verr.Fields["1"])

	res = Validate(fields, models.Values{"1": "42"})
	assert.True(t, res.Valid)
}

func TestValidatorStrict(t *testing.T) {
	v := Validator{Mode: ModeStrict}
	fields := allTypeFields()

	res := v.Validate(fields, models.Values{
		"1": "text",
		"2": "12.5",
		"3": "2024-02-29",
		"4": "red-0",
		"5": "l",
		"6": true,
		"7": false,
	})
	assert.True(t, res.Valid, res.Errors)

	res = v.Validate(fields, models.Values{
		"1": 3.0,
		"2": "twelve",
		"3": "yesterday",
		"4": "green",
		"5": 1.0,
		"6": "yes",
		"7": 0.0,
	})
	assert.False(t, res.Valid)
	assert.Equal(t, "Title must be text", res.Errors["1"])
	assert.Equal(t, "Age must be a number", res.Errors["2"])
	assert.Equal(t, "Born must be a valid date", res.Errors["3"])
	assert.Equal(t, "Colour must be one of the listed options", res.Errors["4"])
	assert.Equal(t, "Size must be one of the listed options", res.Errors["5"])
	assert.Equal(t, "Agree must be true or false", res.Errors["6"])
	assert.Equal(t, "Active must be true or false", res.Errors["7"])
}

func TestValidatorStrictSkipsEmptyOptional(t *testing.T) {
	v := Validator{Mode: ModeStrict}
	res := v.Validate(allTypeFields(), models.Values{"2": "", "3": nil})
	assert.True(t, res.Valid)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePresence, m)

	m, err = ParseMode(" Strict ")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	_, err = ParseMode("loose")
	var perr *models.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"A", "a"},
		{"Very  Large\tSize", "very_large_size"},
		{" Leading", "_leading"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestNormalizeOptionsForSave(t *testing.T) {
	fields := []models.FieldInput{{
		ID:   "1",
		Name: "Pick",
		Type: models.FieldTypeSelect,
		Options: []models.OptionInput{
			models.BareOption("A"),
			models.BareOption("B"),
		},
	}}

	got := NormalizeOptionsForSave(fields)
	require.Len(t, got, 1)
	assert.Equal(t, []models.Option{
		{Name: "A", Value: "a-0", DisplayOrder: 1},
		{Name: "B", Value: "b-1", DisplayOrder: 2},
	}, got[0].Options)
}

func TestNormalizeOptionsMixed(t *testing.T) {
	in := []models.OptionInput{
		models.BareOption("Big One"),
		models.StructuredOption("Kept", "kept", 7),
		{Label: "No Value"},
		models.StructuredOption("Blank", "  ", 0),
	}
	got := NormalizeOptions(in)
	assert.Equal(t, []models.Option{
		{Name: "Big One", Value: "big_one-0", DisplayOrder: 1},
		{Name: "Kept", Value: "kept", DisplayOrder: 7},
		{Name: "No Value", Value: "no_value-2", DisplayOrder: 3},
		{Name: "Blank", Value: "blank-3", DisplayOrder: 4},
	}, got)
}

func TestNormalizeOptionsDuplicateLabels(t *testing.T) {
	got := NormalizeOptions([]models.OptionInput{models.BareOption("Yes"), models.BareOption("Yes")})
	require.Len(t, got, 2)
	assert.NotEqual(t, got[0].Value, got[1].Value)
}

func TestNormalizeOptionsForSaveIdempotent(t *testing.T) {
	fields := []models.FieldInput{
		{ID: "1", Name: "Pick", Type: models.FieldTypeRadio, Options: []models.OptionInput{
			models.BareOption("Yes"), models.BareOption("Yes"), {Label: "Maybe"},
		}},
		{ID: "2", Name: "Note", Type: models.FieldTypeText},
	}
	once := NormalizeOptionsForSave(fields)
	twice := NormalizeOptionsForSave(models.Inputs(once))
	assert.Equal(t, once, twice)
}

func TestNormalizeOptionsForSaveDropsOptionsOnPlainTypes(t *testing.T) {
	got := NormalizeOptionsForSave([]models.FieldInput{{
		ID: "1", Name: "Note", Type: models.FieldTypeText,
		Options: []models.OptionInput{models.BareOption("stray")},
	}})
	assert.Empty(t, got[0].Options)
}

func TestAddOption(t *testing.T) {
	opts, err := AddOption(nil, "Red", "red")
	require.NoError(t, err)
	opts, err = AddOption(opts, "Blue", "blue")
	require.NoError(t, err)
	assert.Equal(t, []models.Option{
		{Name: "Red", Value: "red", DisplayOrder: 1},
		{Name: "Blue", Value: "blue", DisplayOrder: 2},
	}, opts)

	before := append([]models.Option(nil), opts...)
	got, err := AddOption(opts, "Crimson", "red")
	assert.ErrorIs(t, err, ErrDuplicateOption)
	assert.Equal(t, before, got)

	_, err = AddOption(opts, "", "green")
	assert.ErrorIs(t, err, ErrOptionIncomplete)
	_, err = AddOption(opts, "Green", " ")
	assert.ErrorIs(t, err, ErrOptionIncomplete)
}

func TestRemoveOption(t *testing.T) {
	opts := []models.Option{
		{Name: "A", Value: "a", DisplayOrder: 1},
		{Name: "B", Value: "b", DisplayOrder: 2},
		{Name: "C", Value: "c", DisplayOrder: 3},
	}
	got := RemoveOption(opts, "a")
	assert.Equal(t, []models.Option{
		{Name: "B", Value: "b", DisplayOrder: 1},
		{Name: "C", Value: "c", DisplayOrder: 2},
	}, got)
	assert.Equal(t, "a", opts[0].Value, "input is not modified")
}

func TestAddField(t *testing.T) {
	fields, err := AddField(nil, models.Field{ID: "1", Name: "Title", Type: models.FieldTypeText,
		Options: []models.Option{{Name: "x", Value: "x"}}})
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Nil(t, fields[0].Options)

	tests := []struct {
		name  string
		field models.Field
		want  error
	}{
		{"empty name", models.Field{Name: " ", Type: models.FieldTypeText}, ErrFieldNameRequired},
		{"unknown type", models.Field{Name: "x"}, ErrInvalidFieldType},
		{"select with one option", models.Field{Name: "x", Type: models.FieldTypeSelect,
			Options: []models.Option{{Name: "A", Value: "a"}}}, ErrTooFewOptions},
		{"radio with repeated value", models.Field{Name: "x", Type: models.FieldTypeRadio,
			Options: []models.Option{{Name: "A", Value: "a"}, {Name: "A", Value: "a"}}}, ErrTooFewOptions},
		{"select with collision", models.Field{Name: "x", Type: models.FieldTypeSelect,
			Options: []models.Option{{Name: "A", Value: "a"}, {Name: "B", Value: "b"}, {Name: "C", Value: "a"}}}, ErrDuplicateOption},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AddField(fields, tt.field)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, fields, got)
		})
	}
}

func TestMoveField(t *testing.T) {
	fields := []models.Field{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}}
	ids := func(fs []models.Field) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = f.ID
		}
		return out
	}

	assert.Equal(t, []string{"b", "c", "a", "d"}, ids(MoveField(fields, 0, 2)))
	assert.Equal(t, []string{"d", "a", "b", "c"}, ids(MoveField(fields, 3, 0)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(MoveField(fields, 1, 9)))
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(fields))
}

func TestRemoveField(t *testing.T) {
	fields := []models.Field{{ID: "a"}, {ID: "b"}}
	assert.Equal(t, []models.Field{{ID: "b"}}, RemoveField(fields, "a"))
	assert.Len(t, RemoveField(fields, "zzz"), 2)
}

func TestValidateTemplate(t *testing.T) {
	ok := &models.Template{
		Name:        "Intake",
		Description: "Patient intake form",
		Fields:      allTypeFields(),
	}
	require.NoError(t, ValidateTemplate(ok))

	bad := &models.Template{Name: "ab", Description: "short"}
	err := ValidateTemplate(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNameTooShort)
	assert.ErrorIs(t, err, ErrDescriptionTooShort)
	assert.ErrorIs(t, err, ErrNoFields)
	assert.Len(t, multierr.Errors(err), 3)

	bad = &models.Template{
		Name:        "Intake",
		Description: "Patient intake form",
		Fields: []models.Field{
			{ID: "1", Name: "Pick", Type: models.FieldTypeSelect, Options: []models.Option{{Name: "A", Value: "a"}}},
		},
	}
	err = ValidateTemplate(bad)
	assert.True(t, errors.Is(err, ErrTooFewOptions))
	assert.Contains(t, err.Error(), `field 1 ("Pick")`)
}

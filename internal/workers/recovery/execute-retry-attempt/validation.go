package executeretryattempt

import "tinko-recovery/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"attemptId"},
		Properties: map[string]validation.Property{
			"attemptId": {
				Type:        "integer",
				Description: "Recovery attempt whose retry fires now",
				Minimum:     floatPtr(1),
			},
		},
		AdditionalProperties: false,
	}
}

func floatPtr(f float64) *float64 {
	return &f
}

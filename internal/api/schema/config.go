package schema

import "time"

// Param is one stored configuration parameter.
type Param struct {
	Name      string    `json:"name"`
	Value     string    `json:"value"`
	ValueType string    `json:"valueType"`
	Comment   string    `json:"comment,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateParam is the input for changing a parameter.
type UpdateParam struct {
	Value   string `json:"value"`
	Comment string `json:"comment,omitempty"`
}

// Package readtask turns a declarative read-task configuration into a
// validated [Plan] and executes it one cycle at a time through [Source].
package readtask

// TaskSpec is the user-facing read task configuration. It decodes from both
// JSON and YAML.
type TaskSpec struct {
	Device     string         `json:"device" yaml:"device"`
	Rate       float64        `json:"rate" yaml:"rate"`
	Strict     bool           `json:"strict,omitempty" yaml:"strict,omitempty"`
	AutoStart  bool           `json:"auto_start,omitempty" yaml:"auto_start,omitempty"`
	DataSaving *bool          `json:"data_saving,omitempty" yaml:"data_saving,omitempty"`
	Endpoints  []EndpointSpec `json:"endpoints" yaml:"endpoints"`
}

// EndpointSpec describes one request and the fields read from its response.
type EndpointSpec struct {
	Method      string            `json:"method" yaml:"method"`
	Path        string            `json:"path" yaml:"path"`
	QueryParams map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body        string            `json:"body,omitempty" yaml:"body,omitempty"`
	// RequestContentType overrides the application/json body type.
	RequestContentType string `json:"request_content_type,omitempty" yaml:"request_content_type,omitempty"`
	// ResponseContentType is sent as Accept and checked on every response.
	ResponseContentType string      `json:"response_content_type,omitempty" yaml:"response_content_type,omitempty"`
	Fields              []FieldSpec `json:"fields" yaml:"fields"`
}

// FieldSpec maps one JSON pointer to one channel.
type FieldSpec struct {
	Enabled         *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Pointer         string             `json:"pointer" yaml:"pointer"`
	Channel         uint32             `json:"channel" yaml:"channel"`
	TimestampFormat string             `json:"timestamp_format,omitempty" yaml:"timestamp_format,omitempty"`
	TimePointer     *TimeInfoSpec      `json:"time_pointer,omitempty" yaml:"time_pointer,omitempty"`
	EnumValues      map[string]float64 `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`
}

// TimeInfoSpec locates a timestamp inside the same response.
type TimeInfoSpec struct {
	Pointer string `json:"pointer" yaml:"pointer"`
	Format  string `json:"format" yaml:"format"`
}

// IsEnabled reports whether the field is read. Fields are enabled unless
// explicitly disabled.
func (f FieldSpec) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// SavesData reports whether frames should be persisted. Defaults to true.
func (t TaskSpec) SavesData() bool {
	return t.DataSaving == nil || *t.DataSaving
}

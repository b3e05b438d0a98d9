package domain

// RecordKind distinguishes the two kinds of counter log line
type RecordKind int

const (
	// RecordHeader declares the datetime columns of the lines that follow
	RecordHeader RecordKind = iota + 1
	// RecordData carries one (Object, Counter) row of positional values
	RecordData
)

// String returns the record kind name
func (k RecordKind) String() string {
	switch k {
	case RecordHeader:
		return "header"
	case RecordData:
		return "data"
	default:
		return "unknown"
	}
}

// Record is one parsed counter log line.
// Header records only set Datetimes; data records set Object, Counter and Values.
type Record struct {
	Kind      RecordKind `json:"kind"`
	Datetimes []string   `json:"datetimes,omitempty"`
	Object    string     `json:"object,omitempty"`
	Counter   string     `json:"counter,omitempty"`
	Values    []string   `json:"values,omitempty"`
}

// IsHeader reports whether the record is a header declaration
func (r Record) IsHeader() bool { return r.Kind == RecordHeader }

// IsData reports whether the record is a data row
func (r Record) IsData() bool { return r.Kind == RecordData }

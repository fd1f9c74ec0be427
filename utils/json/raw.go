package json

// Raw is a raw encoded JSON value. It delays decoding of a payload until its
// schema is known. A nil Raw marshals into null.
type Raw []byte

func (m Raw) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return m, nil
}

func (m *Raw) UnmarshalJSON(data []byte) error {
	*m = append((*m)[0:0], data...)
	return nil
}

// IsNull returns true if the raw value is empty or the JSON null literal.
func (m Raw) IsNull() bool {
	return len(m) == 0 || string(m) == "null"
}

func (m Raw) String() string {
	return string(m)
}

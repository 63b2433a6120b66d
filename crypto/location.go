package crypto

// KeyLocation selects where an Entity keeps its private keys.
type KeyLocation struct {
	dir       string
	persisted bool
}

// Ephemeral returns a location that keeps keys in memory only.
func Ephemeral() KeyLocation {
	return KeyLocation{}
}

// Path returns a location that persists keys inside dir.
func Path(dir string) KeyLocation {
	return KeyLocation{dir: dir, persisted: true}
}

// IsEphemeral reports whether keys are kept in memory only.
func (l KeyLocation) IsEphemeral() bool {
	return !l.persisted
}

// Dir returns the key directory, or "" for ephemeral locations.
func (l KeyLocation) Dir() string {
	return l.dir
}

func (l KeyLocation) String() string {
	if !l.persisted {
		return "ephemeral"
	}
	return l.dir
}

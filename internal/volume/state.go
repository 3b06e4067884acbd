package volume

// State is a step of the image lifecycle
type State int

const (
	StateAbsent State = iota
	StateCreated
	StateAttached
	StateInitialized
	StatePartitioned
	StateFormatted
	StateDetached
)

var stateNames = map[State]string{
	StateAbsent:      "absent",
	StateCreated:     "created",
	StateAttached:    "attached",
	StateInitialized: "initialized",
	StatePartitioned: "partitioned",
	StateFormatted:   "formatted",
	StateDetached:    "detached",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

package model

// EventHypothesis is one interpretation of an event and the detection
// hypotheses associated with it.
type EventHypothesis struct {
	ID           string         `json:"id"`
	Rejected     bool           `json:"rejected"`
	Associations []HypothesisID `json:"associatedSignalDetectionHypotheses"`
}

// Event owns an ordered list of hypotheses; the last is current.
type Event struct {
	ID         string            `json:"id"`
	Hypotheses []EventHypothesis `json:"eventHypotheses"`
}

// CurrentHypothesis returns the last hypothesis or nil.
func (e *Event) CurrentHypothesis() *EventHypothesis {
	if e == nil || len(e.Hypotheses) == 0 {
		return nil
	}
	return &e.Hypotheses[len(e.Hypotheses)-1]
}

// AssociatedDetectionIDs returns the set of signal detection ids
// associated with the current hypothesis.
func (e *Event) AssociatedDetectionIDs() map[string]struct{} {
	out := make(map[string]struct{})
	h := e.CurrentHypothesis()
	if h == nil {
		return out
	}
	for _, a := range h.Associations {
		out[a.SignalDetectionID] = struct{}{}
	}
	return out
}

// Distance is a station's distance and azimuth from an event location.
type Distance struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
	Azimuth  float64 `json:"azimuth"`
}

package model

// Location is a channel position relative to the earth ellipsoid.
type Location struct {
	Latitude  float64 `json:"latitudeDegrees"`
	Longitude float64 `json:"longitudeDegrees"`
	Depth     float64 `json:"depthKm"`
	Elevation float64 `json:"elevationKm"`
}

// OrientationAngles describes a sensor orientation.
type OrientationAngles struct {
	HorizontalAngleDeg float64 `json:"horizontalAngleDeg"`
	VerticalAngleDeg   float64 `json:"verticalAngleDeg"`
}

// EntityRef is a name-only reference (station, response, input channel).
type EntityRef struct {
	Name string `json:"name"`
}

// VersionRef identifies a versioned entity by name and effective time.
type VersionRef struct {
	Name        string  `json:"name"`
	EffectiveAt float64 `json:"effectiveAt"`
}

// Response is an instrument response reference.
type Response struct {
	ID string `json:"id"`
}

// KeyValue is one entry of an ordered attribute list.
type KeyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Channel is a raw or derived waveform channel.
// ProcessingDefinition and ProcessingMetadata are maps on the wire; the
// channel hash orders them by key.
type Channel struct {
	Name                   string            `json:"name"`
	EffectiveAt            float64           `json:"effectiveAt"`
	Description            string            `json:"description"`
	Station                EntityRef         `json:"station"`
	Location               Location          `json:"location"`
	OrientationAngles      OrientationAngles `json:"orientationAngles"`
	Units                  string            `json:"units"`
	NominalSampleRateHz    float64           `json:"nominalSampleRateHz"`
	ChannelBandType        string            `json:"channelBandType"`
	ChannelInstrumentType  string            `json:"channelInstrumentType"`
	ChannelOrientationCode string            `json:"channelOrientationCode"`
	ChannelOrientationType string            `json:"channelOrientationType"`
	ChannelDataType        string            `json:"channelDataType"`
	ConfiguredInputs       []VersionRef      `json:"configuredInputs"`
	ProcessingDefinition   map[string]any    `json:"processingDefinition"`
	ProcessingMetadata     map[string]any    `json:"processingMetadata"`
	Response               *Response         `json:"response"`
}

// Ref returns the versioned reference to this channel.
func (c Channel) Ref() VersionRef {
	return VersionRef{Name: c.Name, EffectiveAt: c.EffectiveAt}
}

// Clone returns a deep copy so derived channels never share maps with
// their inputs.
func (c Channel) Clone() Channel {
	out := c
	if c.ConfiguredInputs != nil {
		out.ConfiguredInputs = append([]VersionRef(nil), c.ConfiguredInputs...)
	}
	if c.ProcessingDefinition != nil {
		out.ProcessingDefinition = make(map[string]any, len(c.ProcessingDefinition))
		for k, v := range c.ProcessingDefinition {
			out.ProcessingDefinition[k] = v
		}
	}
	if c.ProcessingMetadata != nil {
		out.ProcessingMetadata = make(map[string]any, len(c.ProcessingMetadata))
		for k, v := range c.ProcessingMetadata {
			out.ProcessingMetadata[k] = v
		}
	}
	if c.Response != nil {
		r := *c.Response
		out.Response = &r
	}
	return out
}

// Station groups the channels recorded at one site.
type Station struct {
	Name     string    `json:"name"`
	Channels []Channel `json:"allRawChannels"`
}

// Package channelfactory builds derived (filtered) channels and their
// deterministic names.
//
// A derived channel name has the form
//
//	<input name without hash>/filter,<filter name>/<sha256 of channel data>
//
// The hash input is a fixed-order JSON document so every system that
// derives the same channel arrives at the same name.
package channelfactory

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"fkreview/filters"
	"fkreview/model"

	jsoniter "github.com/json-iterator/go"
)

const (
	AttributeSeparator = ","
	ComponentSeparator = "/"
)

var (
	ErrNilChannel          = errors.New("channelfactory: inputChannel may not be null")
	ErrNilFilterDefinition = errors.New("channelfactory: filterDefinition may not be null")
)

// hashJSON matches JSON.stringify output: no HTML escaping, sorted map keys.
var hashJSON = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()

var hashSuffix = regexp.MustCompile(regexp.QuoteMeta(ComponentSeparator) + `[a-f0-9]{64}`)

// Purpose: Create the channel produced by applying def to input.
// Key aspects: The input is never mutated; the response is dropped and the
// name is computed from the new channel's own data.
// Upstream: worker FILTER_CHANNEL_SEGMENTS op.
// Downstream: GenerateChannelHash, StripHash.
func CreateFiltered(input *model.Channel, def *filters.Definition) (model.Channel, error) {
	if input == nil {
		return model.Channel{}, ErrNilChannel
	}
	if def == nil {
		return model.Channel{}, ErrNilFilterDefinition
	}
	processingDefinition, err := definitionRecord(*def)
	if err != nil {
		return model.Channel{}, err
	}

	out := input.Clone()
	out.Description = fmt.Sprintf("%s Filtered using a %s filter.", input.Description, def.Name)
	out.ConfiguredInputs = []model.VersionRef{input.Ref()}
	out.ProcessingDefinition = processingDefinition
	out.ProcessingMetadata = processingMetadata(input, def)
	out.Response = nil

	hash, err := GenerateChannelHash(out)
	if err != nil {
		return model.Channel{}, err
	}
	out.Name = StripHash(input.Name) + ComponentSeparator + filterAttributes(def) + ComponentSeparator + hash
	return out, nil
}

// definitionRecord flattens a filter definition into a JSON-shaped map.
func definitionRecord(def filters.Definition) (map[string]any, error) {
	raw, err := hashJSON.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("channelfactory: encode filter definition: %w", err)
	}
	var out map[string]any
	if err := hashJSON.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("channelfactory: decode filter definition: %w", err)
	}
	return out, nil
}

func processingMetadata(input *model.Channel, def *filters.Definition) map[string]any {
	out := make(map[string]any, len(input.ProcessingMetadata)+2)
	for k, v := range input.ProcessingMetadata {
		out[k] = v
	}
	out["FILTER_TYPE"] = string(def.FilterDescription.FilterType)
	out["FILTER_CAUSALITY"] = def.FilterDescription.Causal
	return out
}

// filterAttributes renders "filter,<name>" with the first '/' of the name
// replaced so it cannot split the channel name.
func filterAttributes(def *filters.Definition) string {
	if def == nil || def.Name == "" {
		return ""
	}
	return "filter" + AttributeSeparator + strings.Replace(def.Name, "/", "|", 1)
}

type hashInput struct {
	EffectiveAt string `json:"effectiveAt"`
	Name        string `json:"name"`
}

// ChannelHashData is the fixed-order document hashed into derived names.
type ChannelHashData struct {
	ChannelBandType        string                  `json:"channelBandType"`
	ChannelDataType        string                  `json:"channelDataType"`
	ChannelInstrumentType  string                  `json:"channelInstrumentType"`
	ChannelOrientationCode string                  `json:"channelOrientationCode"`
	ChannelOrientationType string                  `json:"channelOrientationType"`
	ConfiguredInputs       []hashInput             `json:"configuredInputs"`
	Description            string                  `json:"description"`
	Location               model.Location          `json:"location"`
	NominalSampleRateHz    float64                 `json:"nominalSampleRateHz"`
	OrientationAngles      model.OrientationAngles `json:"orientationAngles"`
	ProcessingDefinition   []map[string]any        `json:"processingDefinition"`
	ProcessingMetadata     []map[string]any        `json:"processingMetadata"`
	Response               *string                 `json:"response"`
	Station                string                  `json:"station"`
	Units                  string                  `json:"units"`
}

// GenerateChannelDataForHash builds the hash document for ch.
func GenerateChannelDataForHash(ch model.Channel) ChannelHashData {
	data := ChannelHashData{
		ChannelBandType:        ch.ChannelBandType,
		ChannelDataType:        ch.ChannelDataType,
		ChannelInstrumentType:  ch.ChannelInstrumentType,
		ChannelOrientationCode: ch.ChannelOrientationCode,
		ChannelOrientationType: ch.ChannelOrientationType,
		ConfiguredInputs:       []hashInput{{EffectiveAt: model.ToOSDTime(ch.EffectiveAt), Name: ch.Name}},
		Description:            ch.Description,
		Location:               ch.Location,
		NominalSampleRateHz:    ch.NominalSampleRateHz,
		OrientationAngles:      ch.OrientationAngles,
		ProcessingDefinition:   sortedRecord(ch.ProcessingDefinition),
		ProcessingMetadata:     sortedRecord(ch.ProcessingMetadata),
		Station:                ch.Station.Name,
		Units:                  ch.Units,
	}
	if ch.Response != nil {
		id := ch.Response.ID
		data.Response = &id
	}
	return data
}

// sortedRecord converts a record to [{key: value}, ...] ordered by key.
func sortedRecord(r map[string]any) []map[string]any {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, map[string]any{k: r[k]})
	}
	return out
}

// GenerateChannelJSON renders the compact hash input for ch.
func GenerateChannelJSON(ch model.Channel) (string, error) {
	s, err := hashJSON.MarshalToString(GenerateChannelDataForHash(ch))
	if err != nil {
		return "", fmt.Errorf("channelfactory: encode channel: %w", err)
	}
	return s, nil
}

// GenerateChannelHash returns the lowercase hex SHA-256 of the hash input.
func GenerateChannelHash(ch model.Channel) (string, error) {
	s, err := GenerateChannelJSON(ch)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:]), nil
}

// StripHash removes the first "/<64 hex>" component from a channel name.
func StripHash(name string) string {
	loc := hashSuffix.FindStringIndex(name)
	if loc == nil {
		return name
	}
	return name[:loc[0]] + name[loc[1]:]
}

// IsDerivedChannel reports whether name carries processing components.
func IsDerivedChannel(name string) bool {
	return strings.Contains(name, ComponentSeparator)
}

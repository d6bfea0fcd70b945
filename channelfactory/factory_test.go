package channelfactory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fkreview/filters"
	"fkreview/model"
)

func testChannel() model.Channel {
	return model.Channel{
		Name:                   "ASAR.AS01.SHZ",
		EffectiveAt:            1636503404,
		Description:            "raw",
		Station:                model.EntityRef{Name: "ASAR"},
		Location:               model.Location{Latitude: -23.665, Longitude: 133.905, Depth: 0, Elevation: 0.6},
		OrientationAngles:      model.OrientationAngles{HorizontalAngleDeg: 90, VerticalAngleDeg: 0},
		Units:                  "NANOMETERS",
		NominalSampleRateHz:    40,
		ChannelBandType:        "SHORT_PERIOD",
		ChannelInstrumentType:  "HIGH_GAIN_SEISMOMETER",
		ChannelOrientationCode: "Z",
		ChannelOrientationType: "VERTICAL",
		ChannelDataType:        "SEISMIC",
		ProcessingDefinition:   map[string]any{},
		ProcessingMetadata:     map[string]any{"CHANNEL_GROUP": "AS01"},
		Response:               &model.Response{ID: "r1"},
	}
}

func testDefinition() filters.Definition {
	return filters.Definition{
		Name: "0.5 2.0 3 BP causal",
		FilterDescription: filters.Description{
			FilterType:    filters.TypeIIRButterworth,
			Causal:        true,
			LowFrequency:  0.5,
			HighFrequency: 2,
			Order:         3,
			PassBandType:  filters.BandPass,
		},
	}
}

func TestGenerateChannelJSONFieldOrder(t *testing.T) {
	got, err := GenerateChannelJSON(testChannel())
	if err != nil {
		t.Fatalf("GenerateChannelJSON: %v", err)
	}
	want := `{"channelBandType":"SHORT_PERIOD","channelDataType":"SEISMIC","channelInstrumentType":"HIGH_GAIN_SEISMOMETER",` +
		`"channelOrientationCode":"Z","channelOrientationType":"VERTICAL",` +
		`"configuredInputs":[{"effectiveAt":"2021-11-10T00:16:44.000Z","name":"ASAR.AS01.SHZ"}],` +
		`"description":"raw","location":{"latitudeDegrees":-23.665,"longitudeDegrees":133.905,"depthKm":0,"elevationKm":0.6},` +
		`"nominalSampleRateHz":40,"orientationAngles":{"horizontalAngleDeg":90,"verticalAngleDeg":0},` +
		`"processingDefinition":[],"processingMetadata":[{"CHANNEL_GROUP":"AS01"}],` +
		`"response":"r1","station":"ASAR","units":"NANOMETERS"}`
	if got != want {
		t.Fatalf("hash json mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestGenerateChannelHashIsStable(t *testing.T) {
	ch := testChannel()
	first, err := GenerateChannelHash(ch)
	if err != nil {
		t.Fatalf("GenerateChannelHash: %v", err)
	}
	if first != "f9fc741dd664269020274c945a1ca8fc043eba052f71cb405ee6e26517ffb77f" {
		t.Fatalf("unexpected hash %s", first)
	}
	// Map iteration order must not leak into the hash.
	for i := 0; i < 20; i++ {
		again, _ := GenerateChannelHash(ch.Clone())
		if again != first {
			t.Fatalf("hash changed between calls: %s vs %s", first, again)
		}
	}
	ch.Units = "COUNTS"
	changed, _ := GenerateChannelHash(ch)
	if changed == first {
		t.Fatalf("expected hash to change with units")
	}
}

func TestResponseRendersNull(t *testing.T) {
	ch := testChannel()
	ch.Response = nil
	got, err := GenerateChannelJSON(ch)
	if err != nil {
		t.Fatalf("GenerateChannelJSON: %v", err)
	}
	if !strings.Contains(got, `"response":null`) {
		t.Fatalf("expected null response in %s", got)
	}
}

func TestCreateFiltered(t *testing.T) {
	in := testChannel()
	def := testDefinition()
	out, err := CreateFiltered(&in, &def)
	if err != nil {
		t.Fatalf("CreateFiltered: %v", err)
	}
	if out.Description != "raw Filtered using a 0.5 2.0 3 BP causal filter." {
		t.Fatalf("description = %q", out.Description)
	}
	if len(out.ConfiguredInputs) != 1 || out.ConfiguredInputs[0] != in.Ref() {
		t.Fatalf("configured inputs = %+v", out.ConfiguredInputs)
	}
	if out.Response != nil {
		t.Fatalf("expected response to be cleared")
	}
	if out.ProcessingMetadata["FILTER_TYPE"] != "IIR_BUTTERWORTH" || out.ProcessingMetadata["FILTER_CAUSALITY"] != true {
		t.Fatalf("processing metadata = %+v", out.ProcessingMetadata)
	}
	if out.ProcessingMetadata["CHANNEL_GROUP"] != "AS01" {
		t.Fatalf("input metadata lost: %+v", out.ProcessingMetadata)
	}
	if _, ok := in.ProcessingMetadata["FILTER_TYPE"]; ok {
		t.Fatalf("input channel metadata was mutated")
	}
	if in.Response == nil {
		t.Fatalf("input channel response was mutated")
	}
	if out.ProcessingDefinition["name"] != def.Name {
		t.Fatalf("processing definition = %+v", out.ProcessingDefinition)
	}

	prefix := "ASAR.AS01.SHZ/filter,0.5 2.0 3 BP causal/"
	if !strings.HasPrefix(out.Name, prefix) {
		t.Fatalf("name = %q", out.Name)
	}
	hash := strings.TrimPrefix(out.Name, prefix)
	if len(hash) != 64 {
		t.Fatalf("hash component = %q", hash)
	}
	// The hash is computed before the derived name is set.
	unhashed := out.Clone()
	unhashed.Name = in.Name
	want, _ := GenerateChannelHash(unhashed)
	if hash != want {
		t.Fatalf("hash = %s want %s", hash, want)
	}

	again, err := CreateFiltered(&in, &def)
	if err != nil {
		t.Fatalf("CreateFiltered again: %v", err)
	}
	if again.Name != out.Name {
		t.Fatalf("derived name not deterministic: %s vs %s", again.Name, out.Name)
	}
}

func TestCreateFilteredChained(t *testing.T) {
	in := testChannel()
	def := testDefinition()
	first, err := CreateFiltered(&in, &def)
	if err != nil {
		t.Fatalf("CreateFiltered: %v", err)
	}
	def.Name = "HP/0.5"
	second, err := CreateFiltered(&first, &def)
	if err != nil {
		t.Fatalf("CreateFiltered chained: %v", err)
	}
	prefix := "ASAR.AS01.SHZ/filter,0.5 2.0 3 BP causal/filter,HP|0.5/"
	if !strings.HasPrefix(second.Name, prefix) {
		t.Fatalf("chained name = %q", second.Name)
	}
	if !IsDerivedChannel(second.Name) || IsDerivedChannel(in.Name) {
		t.Fatalf("IsDerivedChannel mismatch")
	}
}

func TestCreateFilteredNilInputs(t *testing.T) {
	in := testChannel()
	def := testDefinition()
	if _, err := CreateFiltered(nil, &def); !errors.Is(err, ErrNilChannel) {
		t.Fatalf("expected ErrNilChannel, got %v", err)
	}
	if _, err := CreateFiltered(&in, nil); !errors.Is(err, ErrNilFilterDefinition) {
		t.Fatalf("expected ErrNilFilterDefinition, got %v", err)
	}
}

func TestStripHash(t *testing.T) {
	hash := strings.Repeat("ab", 32)
	cases := []struct {
		in, want string
	}{
		{"ASAR.AS01.SHZ", "ASAR.AS01.SHZ"},
		{"ASAR.AS01.SHZ/filter,x/" + hash, "ASAR.AS01.SHZ/filter,x"},
		{"ASAR.beam/" + hash + "/filter,x/" + hash, "ASAR.beam/filter,x/" + hash},
		{"ASAR.AS01.SHZ/filter,x/" + hash[:60], "ASAR.AS01.SHZ/filter,x/" + hash[:60]},
		{"ASAR.AS01.SHZ/filter,x/" + strings.ToUpper(hash), "ASAR.AS01.SHZ/filter,x/" + strings.ToUpper(hash)},
	}
	for _, tc := range cases {
		if got := StripHash(tc.in); got != tc.want {
			t.Fatalf("StripHash(%q) = %q want %q", tc.in, got, tc.want)
		}
	}
}

type recordingPublisher struct {
	names []string
	err   error
}

func (r *recordingPublisher) PublishDerivedChannel(_ context.Context, ch model.Channel) error {
	r.names = append(r.names, ch.Name)
	return r.err
}

func TestPublishLogsFailures(t *testing.T) {
	p := &recordingPublisher{err: errors.New("broker down")}
	Publish(context.Background(), p, model.Channel{Name: "x"})
	if len(p.names) != 1 {
		t.Fatalf("expected one publish attempt, got %d", len(p.names))
	}
	Publish(context.Background(), nil, model.Channel{Name: "x"})
	if err := (NopPublisher{}).PublishDerivedChannel(context.Background(), model.Channel{}); err != nil {
		t.Fatalf("NopPublisher: %v", err)
	}
}

func TestTopicFor(t *testing.T) {
	if got := topicFor(""); got != "derived-channels" {
		t.Fatalf("topicFor empty = %q", got)
	}
	if got := topicFor("/fkreview/"); got != "fkreview/derived-channels" {
		t.Fatalf("topicFor prefix = %q", got)
	}
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mycophonic/hypha"
	"github.com/mycophonic/hypha/decoder"
	"github.com/mycophonic/hypha/pipeline"
)

// parseStageSpecs splits one -P argument ("pd1:opt=val,pd2:chan=idx") on
// commas and parses each comma-separated decoder spec.
func parseStageSpecs(raw string, logicNames []string) ([]pipeline.Stage, error) {
	var stages []pipeline.Stage

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		st, err := parseStageSpec(part, logicNames)
		if err != nil {
			return nil, err
		}

		stages = append(stages, st)
	}

	return stages, nil
}

// parseStageSpec parses "<id>[:key=val]*" into a pipeline.Stage, routing
// each key=val field to a channel binding or an option overlay depending
// on whether key names one of the decoder's declared channels.
func parseStageSpec(spec string, logicNames []string) (pipeline.Stage, error) {
	fields := strings.Split(spec, ":")
	id := fields[0]

	factory, ok := registry[id]
	if !ok {
		return pipeline.Stage{}, hypha.NewConfigError("parse -P", fmt.Errorf("unknown decoder id %q", id))
	}

	dec, base := factory()
	meta := base.Metadata()

	bindings := map[string]int{}
	options := map[string]any{}

	for _, kv := range fields[1:] {
		key, val, hasVal := strings.Cut(kv, "=")
		if !hasVal {
			return pipeline.Stage{}, hypha.NewConfigError("parse -P", fmt.Errorf("%s: malformed field %q, want key=value", id, kv))
		}

		if isDeclaredChannel(meta, key) {
			idx, err := resolveChannelIndex(val, logicNames)
			if err != nil {
				return pipeline.Stage{}, hypha.NewConfigError("parse -P", fmt.Errorf("%s: channel %s: %w", id, key, err))
			}

			bindings[key] = idx

			continue
		}

		options[key] = val
	}

	return pipeline.Stage{Decoder: dec, Base: base, Bindings: bindings, Options: options}, nil
}

func isDeclaredChannel(meta decoder.Metadata, id string) bool {
	for _, c := range meta.Channels {
		if c.ID == id {
			return true
		}
	}

	for _, c := range meta.OptionalChannels {
		if c.ID == id {
			return true
		}
	}

	return false
}

// resolveChannelIndex accepts either a bare raw channel index or a
// channel name looked up in the driver's logic channel list.
func resolveChannelIndex(val string, logicNames []string) (int, error) {
	if n, err := strconv.Atoi(val); err == nil {
		return n, nil
	}

	for i, name := range logicNames {
		if name == val {
			return i, nil
		}
	}

	return 0, fmt.Errorf("no channel named %q", val)
}

// outputSelection describes a -A or -B flag value: "<decoder>[=filter]".
type outputSelection struct {
	decoderID string
	filter    string
}

func parseOutputSelection(raw string) outputSelection {
	id, filterList, _ := strings.Cut(raw, "=")

	filter := ""
	if filterList != "" {
		// Base.Put matches a single filter string per registered callback;
		// a multi-class selector ("ann1:ann2") keeps only the first.
		// sigrok's richer multi-class -A registers one callback per class.
		filter, _, _ = strings.Cut(filterList, ":")
	}

	return outputSelection{decoderID: id, filter: filter}
}

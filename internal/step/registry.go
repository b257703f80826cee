package step

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrUnknownType indicates a tag with no registry entry. It surfaces at
// script build/decode time, never during execution.
var ErrUnknownType = errors.New("unknown step type")

type entry struct {
	decode func(raw []byte) (Definition, error)
	build  func(def Definition, env Env) (Step, error)
}

// registry is the single source of truth correlating the closed set of
// behaviors. Adding a behavior means adding one entry plus its
// definition/executor pair; nothing else enumerates the set.
var registry = map[Type]entry{
	TypeWaitForDuration: {
		decode: func(raw []byte) (Definition, error) {
			var d WaitForDurationDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &waitForDurationStep{def: def.(*WaitForDurationDef)}, nil
		},
	},
	TypeWaitForChannel: {
		decode: func(raw []byte) (Definition, error) {
			var d WaitForChannelDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &waitForChannelStep{def: def.(*WaitForChannelDef)}, nil
		},
	},
	TypeWaitForMessage: {
		decode: func(raw []byte) (Definition, error) {
			var d WaitForMessageDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &waitForMessageStep{def: def.(*WaitForMessageDef)}, nil
		},
	},
	TypeWaitForTrack: {
		decode: func(raw []byte) (Definition, error) {
			var d WaitForTrackDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &waitForTrackStep{def: def.(*WaitForTrackDef)}, nil
		},
	},
	TypeWaitForMedia: {
		decode: func(raw []byte) (Definition, error) {
			var d WaitForMediaDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &waitForMediaStep{def: def.(*WaitForMediaDef)}, nil
		},
	},
	TypeSendMessage: {
		decode: func(raw []byte) (Definition, error) {
			var d SendMessageDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &sendMessageStep{def: def.(*SendMessageDef)}, nil
		},
	},
	TypeCloseConnection: {
		decode: func(raw []byte) (Definition, error) {
			var d CloseConnectionDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &closeConnectionStep{def: def.(*CloseConnectionDef)}, nil
		},
	},
	TypeEchoChannels: {
		decode: func(raw []byte) (Definition, error) {
			var d EchoChannelsDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &echoChannelsStep{def: def.(*EchoChannelsDef)}, nil
		},
	},
	TypePeerProxy: {
		decode: func(raw []byte) (Definition, error) {
			var d PeerProxyDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			d := def.(*PeerProxyDef)
			if d.answer == nil && d.AnswerEndpoint == "" {
				return nil, fmt.Errorf("peer-proxy definition has no answer source")
			}
			return &peerProxyStep{def: d, env: env}, nil
		},
	},
	TypeDynamicProxy: {
		decode: func(raw []byte) (Definition, error) {
			var d DynamicProxyDef
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, err
			}
			return &d, nil
		},
		build: func(def Definition, env Env) (Step, error) {
			return &dynamicProxyStep{def: def.(*DynamicProxyDef), env: env}, nil
		},
	},
}

// Types returns every registered type tag.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// Decode reconstructs a definition from its wire form
// {"type": tag, ...params}.
func Decode(data []byte) (Definition, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid step definition JSON")
	}
	tag := gjson.GetBytes(data, "type")
	if !tag.Exists() {
		return nil, fmt.Errorf("step definition has no type tag")
	}
	e, ok := registry[Type(tag.String())]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.String())
	}
	return e.decode(data)
}

// Encode produces a definition's wire form, injecting the type tag.
func Encode(def Definition) ([]byte, error) {
	fields, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := json.Unmarshal(fields, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	obj["type"] = string(def.Type())
	return json.Marshal(obj)
}

// DecodeScript reconstructs an ordered definition list from a JSON array.
func DecodeScript(data []byte) ([]Definition, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	defs := make([]Definition, 0, len(raws))
	for i, raw := range raws {
		def, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// EncodeScript produces the wire form of an ordered definition list.
func EncodeScript(defs []Definition) ([]byte, error) {
	raws := make([]json.RawMessage, 0, len(defs))
	for i, def := range defs {
		raw, err := Encode(def)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
		raws = append(raws, raw)
	}
	return json.Marshal(raws)
}

// Build resolves a definition's tag against the registry and constructs
// its executor bound to env.
func Build(def Definition, env Env) (Step, error) {
	e, ok := registry[def.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type())
	}
	return e.build(def, env)
}

// BuildAll builds executors for an ordered definition list.
func BuildAll(defs []Definition, env Env) ([]Step, error) {
	steps := make([]Step, 0, len(defs))
	for i, def := range defs {
		s, err := Build(def, env)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
		steps = append(steps, s)
	}
	return steps, nil
}

package core

import (
	"sort"
	"strconv"
	"sync"
)

// Constant is a firmware constant published to the host
type Constant struct {
	Name  string
	Value interface{}
}

// Enumeration maps value names to their index
type Enumeration struct {
	Name   string
	Values []string
}

// Dictionary is the JSON data dictionary the host retrieves with identify
type Dictionary struct {
	mu           sync.RWMutex
	constants    map[string]*Constant
	enumerations map[string]*Enumeration
	commandReg   *CommandRegistry
	version      string
	buildVersion string
	cached       []byte
}

// FirmwareVersion is reported as the dictionary version
const FirmwareVersion = "gobldc-0.1.0"

var globalDictionary = NewDictionary(globalRegistry)

func NewDictionary(cmdReg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants:    make(map[string]*Constant),
		enumerations: make(map[string]*Enumeration),
		commandReg:   cmdReg,
		version:      FirmwareVersion,
		buildVersion: "go-tinygo",
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// RegisterEnumeration registers an enumeration in the global dictionary
func RegisterEnumeration(name string, values []string) {
	globalDictionary.AddEnumeration(name, values)
}

func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = &Constant{Name: name, Value: value}
	d.cached = nil
}

// AddEnumeration copies values; empty names are skipped in the output
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = &Enumeration{
		Name:   name,
		Values: append([]string(nil), values...),
	}
	d.cached = nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached = nil
}

func (d *Dictionary) SetBuildVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buildVersion = version
	d.cached = nil
}

// BuildDictionary generates and caches the JSON. Call after every command is registered.
func (d *Dictionary) BuildDictionary() {
	// Read the registry before taking the dictionary lock
	commands, responses := d.commandReg.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.buildJSONLocked(commands, responses)
	DebugPrintln("[dict] " + strconv.Itoa(len(commands)) + " commands, " +
		strconv.Itoa(len(responses)) + " responses, " + strconv.Itoa(len(d.cached)) + " bytes")
}

// Generate returns the dictionary JSON, building it if not cached
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	commands, responses := d.commandReg.GetCommandsAndResponses()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildJSONLocked(commands, responses)
}

// buildJSONLocked writes {"version","build_versions","config","commands","responses","enumerations"}
// with every object sorted so the output is stable
func (d *Dictionary) buildJSONLocked(commands, responses map[string]int) []byte {
	out := make([]byte, 0, 2048)
	out = append(out, `{"version":`...)
	out = appendJSONString(out, d.version)
	out = append(out, `,"build_versions":`...)
	out = appendJSONString(out, d.buildVersion)

	out = append(out, `,"config":{`...)
	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, name)
		out = append(out, ':')
		out = appendJSONString(out, valueToString(d.constants[name].Value))
	}

	out = append(out, `},"commands":`...)
	out = appendIDObject(out, commands)
	out = append(out, `,"responses":`...)
	out = appendIDObject(out, responses)

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		names = names[:0]
		for name := range d.enumerations {
			names = append(names, name)
		}
		sort.Strings(names)
		for i, name := range names {
			if i > 0 {
				out = append(out, ',')
			}
			out = appendJSONString(out, name)
			out = append(out, `:{`...)
			first := true
			for idx, value := range d.enumerations[name].Values {
				if value == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				out = appendJSONString(out, value)
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(idx), 10)
				first = false
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}
	return append(out, '}')
}

// appendIDObject writes signature:id pairs ordered by id
func appendIDObject(out []byte, entries map[string]int) []byte {
	sigs := make([]string, 0, len(entries))
	for sig := range entries {
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return entries[sigs[i]] < entries[sigs[j]] })

	out = append(out, '{')
	for i, sig := range sigs {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, sig)
		out = append(out, ':')
		out = strconv.AppendInt(out, int64(entries[sig]), 10)
	}
	return append(out, '}')
}

// GetChunk returns a copy of up to count bytes of the dictionary from offset.
// An offset past the end yields an empty chunk, which ends the host's retrieval.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return append([]byte(nil), data[offset:end]...)
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}

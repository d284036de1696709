package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"gobldc/host/serial"
	"gobldc/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrNoDictionary = errors.New("dictionary not loaded")
)

// Bootstrap IDs, valid before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
)

// DefaultResponseTimeout bounds the wait for a queried response
const DefaultResponseTimeout = time.Second

// identifyChunk is the dictionary bytes requested per identify
const identifyChunk = 40

// MCU represents a connection to the actuator firmware
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	port io.ReadWriteCloser

	// Dictionary data
	dictionary     *Dictionary
	dictionaryData []byte
	commands       map[string]*MessageFormat
	responses      map[string]*MessageFormat
	responseByID   map[uint16]*MessageFormat
	formatMu       sync.RWMutex

	queryMu  sync.Mutex
	listenMu sync.Mutex
	listener func(Message)

	logger  *log.Logger
	timeout time.Duration

	connected bool
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]string         `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		logger:  log.New(io.Discard, "", 0),
		timeout: DefaultResponseTimeout,
	}
}

// SetLogOutput directs progress and unsolicited-response logging to w
func (m *MCU) SetLogOutput(w io.Writer) {
	m.logger.SetOutput(w)
}

// SetResponseTimeout changes the wait for queried responses
func (m *MCU) SetResponseTimeout(d time.Duration) {
	m.timeout = d
}

// OnMessage registers a callback for every decoded response, including ones
// nobody queried for (shutdown, events)
func (m *MCU) OnMessage(fn func(Message)) {
	m.listenMu.Lock()
	defer m.listenMu.Unlock()
	m.listener = fn
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	m.ConnectPort(port)

	// Give the MCU time to initialize if it just enumerated
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort runs the protocol over an already open port
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	m.logger.Println("Retrieving dictionary from MCU...")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if i%10 == 0 {
			m.logger.Printf("  Retrieved %d bytes...", offset)
		}
		if len(chunk) < identifyChunk {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	m.logger.Printf("Dictionary retrieved: %d bytes", len(m.dictionaryData))

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return nil
}

// sendIdentify sends an identify command and waits for the matching chunk
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	deadline := time.Now().Add(m.timeout)
	for {
		resp, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, fmt.Errorf("failed to receive identify response: %w", err)
		}

		payload := resp.Payload
		cmdID, err := protocol.DecodeVLQUint(&payload)
		if err != nil || cmdID != identifyResponseID {
			continue
		}

		respOffset, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response offset: %w", err)
		}
		if respOffset != offset {
			// A late answer to an earlier identify
			continue
		}

		data, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
		return data, nil
	}
}

// parseDictionary parses the dictionary JSON and indexes its messages by name
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	commands, err := indexFormats(dict.Commands)
	if err != nil {
		return err
	}
	responses, err := indexFormats(dict.Responses)
	if err != nil {
		return err
	}

	byID := make(map[uint16]*MessageFormat, len(responses))
	for _, f := range responses {
		byID[f.ID] = f
	}

	m.formatMu.Lock()
	defer m.formatMu.Unlock()
	m.dictionary = dict
	m.commands = commands
	m.responses = responses
	m.responseByID = byID
	return nil
}

func indexFormats(entries map[string]int) (map[string]*MessageFormat, error) {
	formats := make(map[string]*MessageFormat, len(entries))
	for sig, id := range entries {
		f, err := parseMessageFormat(sig, id)
		if err != nil {
			return nil, err
		}
		formats[f.Name] = f
	}
	return formats, nil
}

// handleResponse runs on the transport reader for every response frame
func (m *MCU) handleResponse(cmdID uint16, data *[]byte) error {
	f, ok := m.responseFormat(cmdID)
	if !ok {
		return nil
	}
	msg, err := f.Decode(*data)
	if err != nil {
		m.logger.Printf("decode %s: %v", f.Name, err)
		return err
	}
	if msg.Name == "shutdown" {
		m.logger.Printf("MCU shutdown: %s", msg.Bytes("reason"))
	}

	m.listenMu.Lock()
	fn := m.listener
	m.listenMu.Unlock()
	if fn != nil {
		fn(msg)
	}
	return nil
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// ConfigValue returns a dictionary constant
func (m *MCU) ConfigValue(name string) (string, bool) {
	if m.dictionary == nil {
		return "", false
	}
	v, ok := m.dictionary.Config[name]
	return v, ok
}

// ConfigInt returns a numeric dictionary constant
func (m *MCU) ConfigInt(name string) (int64, error) {
	v, ok := m.ConfigValue(name)
	if !ok {
		return 0, fmt.Errorf("constant %s: %w", name, ErrUnknownMessage)
	}
	return strconv.ParseInt(v, 10, 64)
}

// EnumName returns the value name for index in the named enumeration
func (m *MCU) EnumName(enum string, index int) string {
	if m.dictionary != nil {
		for name, idx := range m.dictionary.Enumerations[enum] {
			if idx == index {
				return name
			}
		}
	}
	return strconv.Itoa(index)
}

// PrintDictionary writes a summary of the dictionary
func (m *MCU) PrintDictionary(w io.Writer) {
	if m.dictionary == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintln(w, "=== MCU Dictionary ===")
	fmt.Fprintf(w, "Version: %s\n", m.dictionary.Version)
	fmt.Fprintf(w, "Build: %s\n", m.dictionary.BuildVersions)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(m.dictionary.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, m.dictionary.Config[k])
	}

	fmt.Fprintf(w, "\nCommands (%d):\n", len(m.dictionary.Commands))
	for _, sig := range sortedByID(m.dictionary.Commands) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Commands[sig], sig)
	}

	fmt.Fprintf(w, "\nResponses (%d):\n", len(m.dictionary.Responses))
	for _, sig := range sortedByID(m.dictionary.Responses) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Responses[sig], sig)
	}

	if len(m.dictionary.Enumerations) > 0 {
		fmt.Fprintf(w, "\nEnumerations (%d):\n", len(m.dictionary.Enumerations))
		for _, name := range sortedKeys(m.dictionary.Enumerations) {
			fmt.Fprintf(w, "  %s: %d values\n", name, len(m.dictionary.Enumerations[name]))
		}
	}
}

// SendCommand encodes args per the dictionary format of name and sends it
func (m *MCU) SendCommand(name string, args ...interface{}) error {
	f, err := m.command(name)
	if err != nil {
		return err
	}

	encoded := protocol.NewScratchOutput()
	if err := f.Encode(encoded, args...); err != nil {
		return err
	}
	return m.transport.SendCommand(f.ID, func(output protocol.OutputBuffer) {
		output.Output(encoded.Result())
	})
}

// Query sends a command and waits for the named response.
// Responses of other names arriving in between are skipped; OnMessage sees them.
func (m *MCU) Query(response string, name string, args ...interface{}) (Message, error) {
	return m.QueryMatch(response, nil, name, args...)
}

// QueryMatch is Query with an additional predicate on the response
func (m *MCU) QueryMatch(response string, match func(Message) bool, name string, args ...interface{}) (Message, error) {
	if _, ok := m.responses[response]; !ok && m.dictionary != nil {
		return Message{}, fmt.Errorf("response %s: %w", response, ErrUnknownMessage)
	}

	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	if err := m.SendCommand(name, args...); err != nil {
		return Message{}, err
	}
	return m.waitFor(response, match, time.Now().Add(m.timeout))
}

func (m *MCU) waitFor(response string, match func(Message) bool, deadline time.Time) (Message, error) {
	for {
		msg, err := m.receive(time.Until(deadline))
		if err != nil {
			return Message{}, fmt.Errorf("waiting for %s: %w", response, err)
		}
		if msg.Name == response && (match == nil || match(msg)) {
			return msg, nil
		}
	}
}

// receive decodes the next queued response frame
func (m *MCU) receive(timeout time.Duration) (Message, error) {
	frame, err := m.transport.ReceiveResponse(timeout)
	if err != nil {
		return Message{}, err
	}
	payload := frame.Payload
	cmdID, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return Message{}, err
	}
	f, ok := m.responseFormat(uint16(cmdID))
	if !ok {
		return Message{ID: uint16(cmdID)}, nil
	}
	return f.Decode(payload)
}

func (m *MCU) responseFormat(id uint16) (*MessageFormat, bool) {
	m.formatMu.RLock()
	defer m.formatMu.RUnlock()
	f, ok := m.responseByID[id]
	return f, ok
}

func (m *MCU) command(name string) (*MessageFormat, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	f, ok := m.commands[name]
	if !ok {
		return nil, fmt.Errorf("command %s: %w", name, ErrUnknownMessage)
	}
	return f, nil
}

func sortedKeys[V any](entries map[string]V) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedByID(entries map[string]int) []string {
	keys := sortedKeys(entries)
	sort.SliceStable(keys, func(i, j int) bool { return entries[keys[i]] < entries[keys[j]] })
	return keys
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

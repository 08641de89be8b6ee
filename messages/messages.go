package messages

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-jsonnet"
)

//go:embed jsonnet/*
var messages embed.FS

// Message names, each a key of index.jsonnet.
const (
	BenchFile       = "bench_file"
	BenchSummary    = "bench_summary"
	BenchThroughput = "bench_throughput"
	ExportSummary   = "export_summary"
	Transcript      = "transcript"
)

// Output is a rendered message: Content is printed, Embeds go to Discord.
type Output struct {
	Content string                    `json:"content,omitempty"`
	Embeds  []*discordgo.MessageEmbed `json:"embeds,omitempty"`
}

type MessageProvider struct {
	// the VM carries TLA state between calls
	mu sync.Mutex
	vm *jsonnet.VM
}

func NewMessageProvider() (*MessageProvider, error) {
	m := &MessageProvider{
		vm: jsonnet.MakeVM(),
	}

	imports := make(map[string]jsonnet.Contents)
	fs.WalkDir(messages, ".", func(path string, d fs.DirEntry, err error) error {
		if d != nil && !d.IsDir() {
			content, _ := messages.ReadFile(path)
			imports[strings.TrimPrefix(path, "jsonnet/")] = jsonnet.MakeContentsRaw(content)
		}
		return nil
	})

	m.vm.Importer(&jsonnet.MemoryImporter{
		Data: imports,
	})

	_, _, err := m.vm.ImportData("anonymous", "index.jsonnet")
	if err != nil {
		return nil, fmt.Errorf("importing index: %w", err)
	}

	return m, nil
}

func (m *MessageProvider) ExecuteMessage(messageName string, data any) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshaling data: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.vm.TLAVar("message_key", messageName)
	m.vm.TLACode("data", string(jsonData))
	defer m.vm.TLAReset()

	jsonOut, err := m.vm.EvaluateAnonymousSnippet("anonymous", "function(message_key, data) (import 'index.jsonnet')[message_key](data)")
	if err != nil {
		return "", fmt.Errorf("evaluating jsonnet: %w", err)
	}

	return jsonOut, nil
}

// Render executes a message and decodes its output.
func (m *MessageProvider) Render(messageName string, data any) (*Output, error) {
	jsonOut, err := m.ExecuteMessage(messageName, data)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", messageName, err)
	}

	var output Output
	if err := json.Unmarshal([]byte(jsonOut), &output); err != nil {
		return nil, fmt.Errorf("unmarshaling output: %w", err)
	}
	return &output, nil
}

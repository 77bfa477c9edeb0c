package provision

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cochaviz/ecuflash/internal/artifacts"
)

// BuildCoordinate locates one build in the output tree. All fields are
// required.
type BuildCoordinate struct {
	Platform       string `json:"platform" yaml:"platform" toml:"platform"`
	SoftwareFolder string `json:"software_folder" yaml:"software_folder" toml:"software_folder"`
	ChannelType    string `json:"channel_type" yaml:"channel_type" toml:"channel_type"`
}

// NewBuildCoordinate trims and validates its arguments.
func NewBuildCoordinate(platform, softwareFolder, channelType string) (BuildCoordinate, error) {
	c := BuildCoordinate{
		Platform:       strings.TrimSpace(platform),
		SoftwareFolder: strings.TrimSpace(softwareFolder),
		ChannelType:    strings.TrimSpace(channelType),
	}
	return c, c.Validate()
}

func (c BuildCoordinate) Validate() error {
	var missing []string
	if c.Platform == "" {
		missing = append(missing, "platform")
	}
	if c.SoftwareFolder == "" {
		missing = append(missing, "software folder")
	}
	if c.ChannelType == "" {
		missing = append(missing, "channel type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("build coordinate missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (c BuildCoordinate) String() string {
	return c.Platform + "/" + c.SoftwareFolder + "/" + c.ChannelType
}

// Request is the input of one run.
type Request struct {
	Coordinate BuildCoordinate `json:"coordinate"`
	VariantKey string          `json:"variant"`
	Telemetry  bool            `json:"telemetry"`
	// Workspace overrides the orchestrator's workspace when set.
	Workspace string `json:"workspace,omitempty"`

	Reset    bool `json:"reset,omitempty"`
	Erase    bool `json:"erase,omitempty"`
	PreErase bool `json:"pre_erase,omitempty"`
	// TargetCommandsOnFailure erases the target even when the download
	// failed. Reset needs a downloaded image and is still skipped.
	TargetCommandsOnFailure bool `json:"target_commands_on_failure,omitempty"`

	// Nil policies select the first match.
	FirmwarePolicy artifacts.SelectionPolicy `json:"-"`
	SymbolPolicy   artifacts.SelectionPolicy `json:"-"`
}

func (r Request) Validate() error {
	if err := r.Coordinate.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.VariantKey) == "" {
		return errors.New("variant key is required")
	}
	if r.TargetCommandsOnFailure && !r.Erase {
		return errors.New("target commands on failure requires erase")
	}
	return nil
}

type Severity string

const (
	SeverityFatal   Severity = "fatal"   // ended the run
	SeverityError   Severity = "error"   // failed without changing the outcome
	SeverityWarning Severity = "warning" // best effort step failed
)

// Record is one entry in the ordered error log of a run.
type Record struct {
	Step     string   `json:"step"`
	Code     Code     `json:"code"`
	Cause    Code     `json:"cause,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (r Record) String() string {
	code := string(r.Code)
	if r.Cause != "" {
		code += "(" + string(r.Cause) + ")"
	}
	return fmt.Sprintf("%s [%s] %s: %s", r.Severity, code, r.Step, r.Message)
}

// Result is the immutable outcome of a run.
type Result struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Request    Request   `json:"request"`

	FirmwarePath string `json:"firmware_path,omitempty"`
	SymbolPath   string `json:"symbol_path,omitempty"`
	DatasetID    string `json:"dataset_id,omitempty"`
	// DatasetSource names the mapping table the dataset came from.
	DatasetSource string `json:"dataset_source,omitempty"`

	DownloadSucceeded bool `json:"download_succeeded"`
	TelemetryCaptured bool `json:"telemetry_captured"`
	SessionOpened     bool `json:"session_opened"`

	Records []Record `json:"records"`
}

// Succeeded reports the overall outcome, which is exactly whether the
// download succeeded.
func (r Result) Succeeded() bool {
	return r.DownloadSucceeded
}

// Fatal returns the record that ended the run, if any.
func (r Result) Fatal() (Record, bool) {
	for _, record := range r.Records {
		if record.Severity == SeverityFatal {
			return record, true
		}
	}
	return Record{}, false
}

// Warnings returns every record that did not end the run.
func (r Result) Warnings() []Record {
	var out []Record
	for _, record := range r.Records {
		if record.Severity != SeverityFatal {
			out = append(out, record)
		}
	}
	return out
}

func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

package provision

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cochaviz/ecuflash/internal/probe"
	"github.com/cochaviz/ecuflash/internal/telemetry"
)

func TestNewBuildCoordinate(t *testing.T) {
	t.Parallel()

	c, err := NewBuildCoordinate(" PF1 ", "SW_22", "12CH")
	require.NoError(t, err)
	require.Equal(t, "PF1", c.Platform)
	require.Equal(t, "PF1/SW_22/12CH", c.String())

	_, err = NewBuildCoordinate("PF1", "", " ")
	require.EqualError(t, err, "build coordinate missing software folder, channel type")
}

func TestRenderPath(t *testing.T) {
	t.Parallel()

	got, err := RenderPath(testCoordinate, "/builds/{{ .Platform }}/{{ .SoftwareFolder }}/EXTERNAL/{{ .ChannelType }}/")
	require.NoError(t, err)
	require.Equal(t, "/builds/PF1/SW_22/EXTERNAL/12CH", got)

	_, err = RenderPath(testCoordinate, "/builds/{{ .Board }}")
	require.ErrorIs(t, err, errInvalidConfig)
}

func TestLayoutRequiresPatterns(t *testing.T) {
	t.Parallel()

	_, _, err := Layout{FirmwareRoots: []string{"/a"}, SymbolRoots: []string{"/a"}}.SearchSpecs(testCoordinate)
	require.ErrorIs(t, err, errInvalidConfig)
}

func TestClassifyDownloadCauses(t *testing.T) {
	t.Parallel()

	timeout := &probe.DownloadFailedError{Err: &probe.TimeoutError{Op: "download"}}
	code, cause := Classify(fmt.Errorf("wrapped: %w", timeout))
	require.Equal(t, CodeDownloadFailed, code)
	require.Equal(t, CodeTimeout, cause)

	code, cause = Classify(fmt.Errorf("stop measurement: %w", telemetry.ErrTimeout))
	require.Equal(t, CodeTimeout, code)
	require.Empty(t, cause)
	require.Equal(t, CodeTimeout, causeOf(telemetry.ErrTimeout))

	code, cause = Classify(errors.New("boom"))
	require.Equal(t, CodeInternal, code)
	require.Empty(t, cause)
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		record Record
		want   int
	}{
		{Record{Code: CodeNoArtifacts}, ExitNoArtifacts},
		{Record{Code: CodeUnknownVariant}, ExitUnknownVariant},
		{Record{Code: CodeDownloadFailed, Cause: CodeTimeout}, ExitDownloadFailed},
		{Record{Code: CodeDownloadFailed, Cause: CodeInterrupted}, ExitInterrupted},
		{Record{Code: CodeConnection}, ExitConnection},
		{Record{Code: CodeDuplicateVariant}, ExitMapping},
		{Record{Code: CodeTargetCommandFailed}, ExitTargetCommand},
		{Record{Code: CodeInternal}, ExitFailure},
	}
	for _, tc := range cases {
		tc.record.Severity = SeverityFatal
		got := ExitCode(Result{Records: []Record{tc.record}})
		require.Equal(t, tc.want, got, "record %s", tc.record)
	}
	require.Equal(t, ExitOK, ExitCode(Result{DownloadSucceeded: true}))
}

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"proxy-dashboard/internal/config"
	"proxy-dashboard/internal/jobclient"
	"proxy-dashboard/internal/jobclient/jobclienttest"
	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/viewstore"
)

type fakeClipboard struct {
	text string
}

func (c *fakeClipboard) WriteText(text string) error {
	c.text = text
	return nil
}

type harness struct {
	t        *testing.T
	srv      *jobclienttest.Server
	stateDir string
	config   string
	clip     *fakeClipboard
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(config.EnvServer, "")
	t.Setenv(config.EnvStateDir, "")
	t.Setenv(config.EnvLogLevel, "")

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("retry_max: 0\n"), 0o644))
	return &harness{
		t:        t,
		srv:      jobclienttest.New(t),
		stateDir: filepath.Join(dir, "state"),
		config:   cfgPath,
		clip:     &fakeClipboard{},
	}
}

type result struct {
	stdout string
	stderr string
	err    error
}

func (h *harness) run(stdin string, args ...string) result {
	h.t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(Streams{
		In:        strings.NewReader(stdin),
		Out:       &out,
		Err:       &errOut,
		Clipboard: h.clip,
	})
	root.SetArgs(append([]string{
		"--config", h.config,
		"--server", h.srv.URL,
		"--state-dir", h.stateDir,
	}, args...))
	err := root.ExecuteContext(context.Background())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func (h *harness) record() viewstore.Record {
	h.t.Helper()
	rec, err := viewstore.New(h.stateDir, config.DefaultNamespace).Load()
	require.NoError(h.t, err)
	return rec
}

func (h *harness) finishJob() {
	h.srv.Update(func(s *jobclienttest.State) {
		s.Running = false
		s.Progress = model.Progress{Current: 2, Total: 2, WorkingCount: 2, UniqueIPCount: 1}
		s.Working = []string{"1.1.1.1:80", "2.2.2.2:80"}
		s.Unique = []string{"1.1.1.1:80"}
	})
}

func TestStartSendsInputAndPersistsIt(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "start", "--input", "1.1.1.1:80\n2.2.2.2:80")
	require.NoError(t, res.err)
	require.Equal(t, 1, h.srv.Calls(jobclient.PathStart))
	require.Equal(t, "1.1.1.1:80\n2.2.2.2:80", h.srv.LastInput())
	require.Contains(t, res.stderr, "started testing 2 proxies")
	require.Equal(t, "1.1.1.1:80\n2.2.2.2:80", h.record().Input)
}

func TestStartReadsStdin(t *testing.T) {
	h := newHarness(t)

	res := h.run("10.0.0.1:3128\n", "start", "--file", "-")
	require.NoError(t, res.err)
	require.Equal(t, "10.0.0.1:3128", h.srv.LastInput())
}

func TestStartReusesSavedInput(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("", "start", "--input", "1.1.1.1:80").err)
	h.finishJob()

	require.NoError(t, h.run("", "start").err)
	require.Equal(t, 2, h.srv.Calls(jobclient.PathStart))
	require.Equal(t, "1.1.1.1:80", h.srv.LastInput())
}

func TestStartWithoutInputSendsNothing(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "start", "--input", "   ")
	require.Error(t, res.err)
	require.True(t, model.IsKind(res.err, model.KindValidation))
	require.Zero(t, h.srv.Calls(jobclient.PathStart))
}

func TestStartRejectsTwoSources(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "start", "--file", "proxies.txt", "--input", "1.1.1.1:80")
	require.ErrorContains(t, res.err, "either --file or --input")
	require.Zero(t, h.srv.TotalCalls())
}

func TestStartWhileRunningSurfacesServiceError(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) { s.Running = true })

	res := h.run("", "start", "--input", "1.1.1.1:80")
	require.Error(t, res.err)
	require.True(t, model.IsKind(res.err, model.KindService))
	require.Contains(t, res.err.Error(), "testing already in progress")
}

func TestStatusJSON(t *testing.T) {
	h := newHarness(t)
	h.finishJob()

	res := h.run("", "status", "--json")
	require.NoError(t, res.err)

	var got statusReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	require.Equal(t, 100, got.Percent)
	require.Equal(t, []string{"1.1.1.1:80", "2.2.2.2:80"}, got.Working)
	require.Equal(t, []string{"1.1.1.1:80"}, got.Unique)
	require.Equal(t, h.srv.URL, got.Server)
	require.Empty(t, got.Error)
}

func TestStatusFallsBackToSavedView(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) { s.StateStatus = 503 })

	res := h.run("", "status")
	require.Error(t, res.err)
	require.True(t, model.IsKind(res.err, model.KindTransientPoll))
	require.Contains(t, res.stdout, "idle")
	require.Contains(t, res.stdout, "no working proxies found")
}

func TestStopSettlesWithFollowUpSnapshot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("", "start", "--input", "1.1.1.1:80").err)
	before := h.srv.Calls(jobclient.PathState)

	res := h.run("", "stop")
	require.NoError(t, res.err)
	require.Equal(t, 1, h.srv.Calls(jobclient.PathStop))
	require.Equal(t, before+2, h.srv.Calls(jobclient.PathState))
	require.Contains(t, res.stderr, "testing stopped")
}

func TestStopWithoutRunningJobStaysIdle(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "stop")
	require.NoError(t, res.err)
	require.Equal(t, 1, h.srv.Calls(jobclient.PathStop))
	require.Contains(t, res.stderr, "no running job was shown")
	require.NotContains(t, res.stderr, "testing stopped")
}

func TestStopFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) { s.StopError = "no job running" })

	res := h.run("", "stop")
	require.ErrorContains(t, res.err, "no job running")
}

func TestResultsTabAndCopy(t *testing.T) {
	h := newHarness(t)
	h.finishJob()

	res := h.run("", "results", "--tab", "unique", "--copy")
	require.NoError(t, res.err)
	require.Equal(t, "1.1.1.1:80\n", res.stdout)
	require.Equal(t, "1.1.1.1:80", h.clip.text)
	require.Contains(t, res.stderr, "copied 1 unique proxies")
	require.Equal(t, string(model.TabUnique), h.record().ActiveTab)

	// The selection sticks for the next command.
	res = h.run("", "results")
	require.NoError(t, res.err)
	require.Equal(t, "1.1.1.1:80\n", res.stdout)
}

func TestResultsRejectsUnknownTab(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "results", "--tab", "failed")
	require.True(t, model.IsKind(res.err, model.KindValidation))
}

func TestCopyWithoutUniqueResultsFails(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "results", "--copy")
	require.True(t, model.IsKind(res.err, model.KindEmptyResult))
	require.Empty(t, h.clip.text)
}

func TestExportThenSync(t *testing.T) {
	h := newHarness(t)
	h.finishJob()

	res := h.run("", "export")
	require.NoError(t, res.err)
	require.Equal(t, jobclienttest.DefaultExportName+"\n", res.stdout)
	require.Contains(t, res.stderr, "exported 1 proxies to "+jobclienttest.DefaultExportName)
	rec := h.record()
	require.NotNil(t, rec.ExportedFilename)
	require.Equal(t, jobclienttest.DefaultExportName, *rec.ExportedFilename)

	res = h.run("", "sync", "--filename", "other.tsv")
	require.True(t, model.IsKind(res.err, model.KindNoArtifact))
	require.Zero(t, h.srv.Calls(jobclient.PathSync))

	res = h.run("", "sync")
	require.NoError(t, res.err)
	require.Equal(t, jobclienttest.DefaultExportName, h.srv.LastSyncFilename())
	require.Contains(t, res.stderr, "sync started for "+jobclienttest.DefaultExportName)
}

func TestStartDropsExportForLaterCommands(t *testing.T) {
	h := newHarness(t)
	h.finishJob()
	require.NoError(t, h.run("", "export").err)

	require.NoError(t, h.run("", "start", "--input", "1.1.1.1:80").err)
	require.Nil(t, h.record().ExportedFilename)

	// The service still names the old export; a new session must not offer it.
	res := h.run("", "status", "--json")
	require.NoError(t, res.err)
	var got statusReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	require.Empty(t, got.ExportedArtifact)

	res = h.run("", "sync")
	require.True(t, model.IsKind(res.err, model.KindNoArtifact))
	require.Zero(t, h.srv.Calls(jobclient.PathSync))
}

func TestExportWithoutResultsSendsNothing(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "export")
	require.True(t, model.IsKind(res.err, model.KindEmptyResult))
	require.Zero(t, h.srv.Calls(jobclient.PathExport))
}

func TestExportRefusedWhileRunning(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) {
		s.Running = true
		s.Unique = []string{"1.1.1.1:80"}
	})

	res := h.run("", "export")
	require.True(t, model.IsKind(res.err, model.KindValidation))
	require.Zero(t, h.srv.Calls(jobclient.PathExport))
}

func TestSyncWithoutExportSendsNothing(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "sync")
	require.True(t, model.IsKind(res.err, model.KindNoArtifact))
	require.Zero(t, h.srv.Calls(jobclient.PathSync))
}

func TestWatchJSONFollowsJobToCompletion(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) {
		s.Running = true
		s.Progress = model.Progress{Current: 1, Total: 2}
	})
	finishAfterPolls(t, h, 3)

	res := h.run("", "watch", "--json", "--interval", "10ms")
	require.NoError(t, res.err)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	var first, last statusReport
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &last))
	require.Equal(t, model.StatusRunning, first.Status)
	require.Equal(t, model.StatusCompleted, last.Status)
	require.Equal(t, []string{"1.1.1.1:80"}, last.Unique)
	require.Equal(t, 1, h.srv.MaxConcurrentState())
}

func TestWatchPrintsSummary(t *testing.T) {
	h := newHarness(t)
	h.srv.Update(func(s *jobclienttest.State) {
		s.Running = true
		s.Progress = model.Progress{Total: 2}
	})
	finishAfterPolls(t, h, 2)

	res := h.run("", "watch", "--interval", "10ms")
	require.NoError(t, res.err)
	require.Contains(t, res.stdout, "completed")
	require.Contains(t, res.stdout, "1.1.1.1:80")
}

func TestWatchReturnsWhenIdle(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "watch", "--interval", "10ms")
	require.NoError(t, res.err)
	require.Equal(t, 1, h.srv.Calls(jobclient.PathState))
	require.Contains(t, res.stdout, "idle")
}

func TestResetClearsSavedView(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("", "start", "--input", "1.1.1.1:80").err)
	require.Equal(t, "1.1.1.1:80", h.record().Input)

	res := h.run("", "reset")
	require.NoError(t, res.err)
	require.Equal(t, viewstore.DefaultRecord(), h.record())
}

func TestDashboardRequiresTerminal(t *testing.T) {
	h := newHarness(t)

	res := h.run("")
	require.ErrorContains(t, res.err, "interactive terminal")
	require.Zero(t, h.srv.TotalCalls())
}

// finishAfterPolls completes the fake job once it has served n state
// requests.
func finishAfterPolls(t *testing.T, h *harness, n int) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() { <-done })
	go func() {
		defer close(done)
		deadline := time.Now().Add(5 * time.Second)
		for h.srv.Calls(jobclient.PathState) < n && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
		h.finishJob()
	}()
}

func TestSettingsSetWritesOnlyGivenFields(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "settings", "set", "--server-url", "http://10.0.0.9:5000/", "--interval", "250ms")
	require.NoError(t, res.err)
	require.Contains(t, res.stderr, "updated settings in "+h.config)

	file, err := config.LoadFile(h.config)
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.9:5000", file.ServerURL)
	require.Equal(t, 250*time.Millisecond, file.PollInterval)
	require.Zero(t, file.RetryMax)
	require.Empty(t, file.StateDir)
}

func TestSettingsSetRejectsBadValues(t *testing.T) {
	h := newHarness(t)

	require.ErrorContains(t, h.run("", "settings", "set", "--server-url", "ftp://x").err, "--server-url")
	require.ErrorContains(t, h.run("", "settings", "set", "--interval=-1s").err, "--interval")
	require.ErrorContains(t, h.run("", "settings", "set").err, "nothing to change")
}

func TestMalformedServerIsRejected(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "--server", "127.0.0.1:5000", "status")
	require.ErrorContains(t, res.err, "--server must be an http:// or https:// URL")
	require.Zero(t, h.srv.TotalCalls())

	t.Setenv(config.EnvServer, "localhost")
	res = h.run("", "settings", "show")
	require.ErrorContains(t, res.err, config.EnvServer)
	require.Zero(t, h.srv.TotalCalls())
}

func TestSettingsShowAppliesFlags(t *testing.T) {
	h := newHarness(t)

	res := h.run("", "settings", "show", "--json")
	require.NoError(t, res.err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	require.Equal(t, h.config, got["config_path"])
	require.Equal(t, h.srv.URL, got["server_url"])
	require.Equal(t, h.stateDir, got["state_dir"])
	require.EqualValues(t, 0, got["retry_max"])
}

package normalize

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

// fakeSoffice mimics `soffice --convert-to pdf --outdir DIR FILE` by
// writing DIR/<stem>.pdf.
const fakeSoffice = `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) out="$2"; shift 2 ;;
    --convert-to) shift 2 ;;
    -*) shift ;;
    *) in="$1"; shift ;;
  esac
done
name=$(basename "$in")
printf '%%PDF-1.4\n' > "$out/${name%.*}.pdf"
`

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

func writeWorkbook(t *testing.T, dir, name string, withData bool) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if withData {
		f.SetCellValue("Sheet1", "A1", "TOTAL:")
		f.SetCellValue("Sheet1", "B1", 1000.00)
	}
	path := filepath.Join(dir, name)
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving workbook: %v", err)
	}
	return path
}

func TestConvertToPDF(t *testing.T) {
	bin := writeScript(t, "soffice", fakeSoffice)
	dir := t.TempDir()
	src := writeWorkbook(t, dir, "Invoice_A_RENAMED.xlsx", true)

	c := &Converter{Binary: bin, Timeout: 5 * time.Second}
	got, err := c.ConvertToPDF(context.Background(), src)
	if err != nil {
		t.Fatalf("ConvertToPDF: %v", err)
	}
	want := filepath.Join(dir, "Invoice_A_RENAMED.pdf")
	if got != want {
		t.Errorf("pdf path = %q, want %q", got, want)
	}
	if _, err := os.Stat(got); err != nil {
		t.Errorf("pdf not written: %v", err)
	}
}

func TestConvertToPDFEmptyWorkbook(t *testing.T) {
	bin := writeScript(t, "soffice", fakeSoffice)
	src := writeWorkbook(t, t.TempDir(), "empty.xlsx", false)

	c := &Converter{Binary: bin}
	_, err := c.ConvertToPDF(context.Background(), src)

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("error = %v, want *ConversionError", err)
	}
	if !strings.Contains(err.Error(), "no data") {
		t.Errorf("error = %q, want mention of missing data", err)
	}
}

func TestConvertToPDFNonZeroExit(t *testing.T) {
	bin := writeScript(t, "soffice", "#!/bin/sh\necho 'source file could not be loaded' >&2\nexit 1\n")
	src := writeWorkbook(t, t.TempDir(), "CI.xlsx", true)

	c := &Converter{Binary: bin}
	_, err := c.ConvertToPDF(context.Background(), src)

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("error = %v, want *ConversionError", err)
	}
	if convErr.Op != "convert" {
		t.Errorf("Op = %q, want convert", convErr.Op)
	}
	if !strings.Contains(convErr.Reason, "could not be loaded") {
		t.Errorf("Reason = %q, want converter stderr", convErr.Reason)
	}
}

func TestConvertToPDFTimeout(t *testing.T) {
	bin := writeScript(t, "soffice", "#!/bin/sh\nexec sleep 5\n")
	src := writeWorkbook(t, t.TempDir(), "CI.xlsx", true)

	c := &Converter{Binary: bin, Timeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := c.ConvertToPDF(context.Background(), src)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("converter was not killed at the timeout")
	}
}

func TestConvertToPDFTimeoutKillsChildren(t *testing.T) {
	// No exec: the shell forks sleep, which keeps stderr open like soffice.bin.
	bin := writeScript(t, "soffice", "#!/bin/sh\nsleep 6\n")
	src := writeWorkbook(t, t.TempDir(), "CI.xlsx", true)

	c := &Converter{Binary: bin, Timeout: 200 * time.Millisecond}
	start := time.Now()
	_, err := c.ConvertToPDF(context.Background(), src)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("ConvertToPDF returned after %s, want the timeout to stop the process tree", elapsed)
	}
}

func TestConvertToPDFRemovesProfile(t *testing.T) {
	// Records the profile path it was given, then creates it as soffice would.
	bin := writeScript(t, "soffice", `#!/bin/sh
for a in "$@"; do
  case "$a" in
    -env:UserInstallation=file://*) profile="${a#-env:UserInstallation=file://}" ;;
  esac
done
mkdir -p "$profile/user"
echo "$profile" > "$PROFILE_LOG"
`+strings.TrimPrefix(fakeSoffice, "#!/bin/sh\n"))
	log := filepath.Join(t.TempDir(), "profile.log")
	t.Setenv("PROFILE_LOG", log)

	dir := t.TempDir()
	src := writeWorkbook(t, dir, "CI.xlsx", true)
	c := &Converter{Binary: bin, Timeout: 5 * time.Second}
	if _, err := c.ConvertToPDF(context.Background(), src); err != nil {
		t.Fatalf("ConvertToPDF: %v", err)
	}

	data, err := os.ReadFile(log)
	if err != nil {
		t.Fatalf("converter did not record its profile: %v", err)
	}
	profile := strings.TrimSpace(string(data))
	absDir, _ := filepath.Abs(dir)
	if !strings.HasPrefix(profile, absDir+string(filepath.Separator)) {
		t.Errorf("profile %q is outside the output dir %q", profile, absDir)
	}
	if _, err := os.Stat(profile); !os.IsNotExist(err) {
		t.Errorf("profile %q still exists after conversion (stat err = %v)", profile, err)
	}
}

func TestConvertToPDFMissingOutput(t *testing.T) {
	bin := writeScript(t, "soffice", "#!/bin/sh\nexit 0\n")
	src := writeWorkbook(t, t.TempDir(), "CI.xlsx", true)

	c := &Converter{Binary: bin}
	_, err := c.ConvertToPDF(context.Background(), src)

	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("error = %v, want *ConversionError", err)
	}
}

func TestIsSpreadsheet(t *testing.T) {
	for name, want := range map[string]bool{
		"a.xlsx": true, "a.XLS": true, "a.xlsm": true, "a.pdf": false, "a.xml": false,
	} {
		if got := IsSpreadsheet(name); got != want {
			t.Errorf("IsSpreadsheet(%q) = %v, want %v", name, got, want)
		}
	}
}

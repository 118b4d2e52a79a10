package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/require"

	"github.com/amanthanvi/gpgvault/internal/app"
	"github.com/amanthanvi/gpgvault/internal/config"
	"github.com/amanthanvi/gpgvault/internal/crypto"
	"github.com/amanthanvi/gpgvault/internal/dump"
	"github.com/amanthanvi/gpgvault/internal/storage"
)

func TestVersionCommandOutputsBuildInfo(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	out, err := v.run("", "version")
	require.NoError(t, err)
	require.Contains(t, out, "version=1.2.3")
	require.Contains(t, out, "commit=abc123")
	require.Contains(t, out, "build_time=2026-02-19T00:00:00Z")
}

func TestVersionCommandOutputsJSON(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	out, err := v.run("", "--json", "version")
	require.NoError(t, err)

	var payload BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, testBuildInfo(), payload)
}

func TestRootHasGlobalFlagsAndCommands(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := NewRootCommand(&out, testBuildInfo())

	for _, name := range []string{"config", "vault", "recipient", "backend", "json", "quiet", "verbose", "passphrase-stdin"} {
		require.NotNilf(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
	for _, path := range [][]string{{"init"}, {"add"}, {"rotate"}, {"show"}, {"history"}, {"ls"}, {"key", "import"}, {"key", "ls"}, {"doctor"}, {"version"}} {
		found, _, err := cmd.Find(path)
		require.NoErrorf(t, err, "expected command %v", path)
		require.Equal(t, path[len(path)-1], found.Name())
	}
}

func TestUnknownFlagReturnsUsageError(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("", "show", "x", "--no-such-flag")
	require.Error(t, err)
	require.Equal(t, ExitCodeUsage, exitCode(err))
}

func TestEnvelopeVaultLifecycle(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	out, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	require.Contains(t, out, "initialized vault: "+v.vaultPath)

	out, err = v.run("pw\n", "--passphrase-stdin", "add",
		"--name", "Test4", "--url", "https://example.com", "--user", "alice",
		"--secret", "first", "--note", "created by test",
		"--attr", "a-key=remember1", "--attr", "pin=12=34")
	require.NoError(t, err)
	require.Equal(t, "registered Test4 (#1)\n", out)

	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "other", "--secret", "x")
	require.NoError(t, err)

	out, err = v.run("pw\n", "--passphrase-stdin", "rotate", "#1", "--secret", "second")
	require.NoError(t, err)
	require.Equal(t, "rotated #1: credential #3\n", out)

	out, err = v.run("pw\n", "--passphrase-stdin", "--json", "show", "Test4")
	require.NoError(t, err)
	var shown map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, "Test4", shown["target"])
	require.Equal(t, "https://example.com", shown["url"])
	require.Equal(t, "second", shown["secret"])
	require.Equal(t, "alice", shown["user"], "rotation keeps the previous user")
	require.EqualValues(t, 3, shown["credential_id"])
	require.Nil(t, shown["attributes"])

	out, err = v.run("pw\n", "--passphrase-stdin", "show", "Test4")
	require.NoError(t, err)
	require.Contains(t, out, "secret:  second\n")
	require.Contains(t, out, "target:  Test4 (#1)\n")

	out, err = v.run("pw\n", "--passphrase-stdin", "--json", "history", "Test4", "--reveal")
	require.NoError(t, err)
	var history []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 2)
	require.Equal(t, "second", history[0]["secret"])
	require.Equal(t, "first", history[1]["secret"])
	require.Equal(t, "created by test", history[1]["note"])

	out, err = v.run("pw\n", "--passphrase-stdin", "history", "Test4")
	require.NoError(t, err)
	require.NotContains(t, out, "first")
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 2)

	out, err = v.run("pw\n", "--passphrase-stdin", "ls")
	require.NoError(t, err)
	require.Equal(t, "Test4\nother\n", out)

	raw, err := os.ReadFile(v.vaultPath)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "second")
	info, err := os.Stat(v.vaultPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestShowAttributesOfCurrentCredential(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "Test4", "--secret", "s",
		"--attr", "a-key=remember1", "--attr", "pin=12=34")
	require.NoError(t, err)

	out, err := v.run("pw\n", "--passphrase-stdin", "--json", "show", "Test4")
	require.NoError(t, err)
	var shown credentialView
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Equal(t, map[string]string{"a-key": "remember1", "pin": "12=34"}, shown.Attributes)
}

func TestEnvelopeWrongPassphraseIsAuthFailure(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)

	_, err = v.run("nope\n", "--passphrase-stdin", "ls")
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	require.Equal(t, ExitCodeAuthFailed, exitCode(err))
}

func TestCommandErrorsMapToExitCodes(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)

	_, err := v.run("pw\n", "--passphrase-stdin", "show", "Test4")
	require.Equal(t, ExitCodeNotFound, exitCode(err), "missing vault")

	_, err = v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	_, err = v.run("pw\n", "--passphrase-stdin", "init")
	require.Equal(t, ExitCodeUsage, exitCode(err), "init over an existing vault")

	_, err = v.run("pw\n", "--passphrase-stdin", "show", "nope")
	require.ErrorIs(t, err, storage.ErrTargetNotFound)
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = v.run("pw\n", "--passphrase-stdin", "rotate", "#9", "--secret", "s")
	require.Equal(t, ExitCodeNotFound, exitCode(err))

	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "dup", "--secret", "s")
	require.NoError(t, err)
	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "dup", "--secret", "s")
	require.ErrorIs(t, err, storage.ErrDuplicateTargetName)
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = v.run("", "ls")
	require.ErrorIs(t, err, errNoPassphrase)
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "x")
	require.Equal(t, ExitCodeUsage, exitCode(err), "missing --secret")

	_, err = v.run("pw\n", "--passphrase-stdin", "show")
	require.Equal(t, ExitCodeUsage, exitCode(err), "missing target")

	_, err = v.run("pw\n", "--passphrase-stdin", "--recipient", "", "--backend", "age", "ls")
	require.Equal(t, ExitCodeUsage, exitCode(err), "unknown backend")
}

func TestFailedMutationLeavesVaultUntouched(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	before, err := os.ReadFile(v.vaultPath)
	require.NoError(t, err)

	_, err = v.run("pw\n", "--passphrase-stdin", "rotate", "missing", "--secret", "s")
	require.Error(t, err)

	after, err := os.ReadFile(v.vaultPath)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestMutationWaitsForVaultLock(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)

	held := flock.New(v.vaultPath + ".lock")
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "n", "--secret", "s")
	require.ErrorIs(t, err, errVaultLocked)
	require.Equal(t, ExitCodeLocked, exitCode(err))

	require.NoError(t, held.Unlock())
	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "n", "--secret", "s")
	require.NoError(t, err)
}

func TestInitDoesNotReplaceVaultCreatedWhileWaiting(t *testing.T) {
	t.Parallel()

	populated := newEnvelopeVault(t)
	_, err := populated.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	_, err = populated.run("pw\n", "--passphrase-stdin", "add", "--name", "precious", "--secret", "s")
	require.NoError(t, err)
	content, err := os.ReadFile(populated.vaultPath)
	require.NoError(t, err)

	v := newEnvelopeVault(t)
	held := flock.New(v.vaultPath + ".lock")
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	done := make(chan error, 1)
	go func() {
		_, err := v.run("pw\n", "--passphrase-stdin", "init")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(v.vaultPath, content, 0o600))
	require.NoError(t, held.Unlock())

	err = <-done
	require.ErrorIs(t, err, errVaultExists)
	require.Equal(t, ExitCodeUsage, exitCode(err))

	after, err := os.ReadFile(v.vaultPath)
	require.NoError(t, err)
	require.Equal(t, content, after)

	out, err := v.run("pw\n", "--passphrase-stdin", "ls")
	require.NoError(t, err)
	require.Equal(t, "precious\n", out)
}

func TestSaveRequiresRecipient(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newTestVault(t, dir, fmt.Sprintf(`
[vault]
path = %q
backend = "envelope"

[envelope]
argon2_memory_kib = 32768
argon2_iterations = 1
`, filepath.Join(dir, "vault.gpg")))

	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = v.run("pw\n", "--passphrase-stdin", "--recipient", "laptop", "init")
	require.NoError(t, err)
}

func TestOpenPGPVaultWithImportedKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newTestVault(t, dir, fmt.Sprintf(`
[vault]
path = %q
recipient = "test@test.com"

[gnupg]
home = %q
keyfile = "keyfile.asc"
`, filepath.Join(dir, "vault.gpg"), filepath.Join(dir, "gnupg")))

	_, err := v.run("", "init")
	require.ErrorIs(t, err, errNoKeyMaterial)
	require.Equal(t, ExitCodeDependencyMissing, exitCode(err))

	public, private := newArmoredKey(t, "Vault Test", "test@test.com", []byte("gpg-pass"))
	publicPath := filepath.Join(dir, "pub.asc")
	privatePath := filepath.Join(dir, "sec.asc")
	require.NoError(t, os.WriteFile(publicPath, public, 0o600))
	require.NoError(t, os.WriteFile(privatePath, private, 0o600))

	out, err := v.run("", "key", "import", publicPath)
	require.NoError(t, err)
	require.Contains(t, out, "Vault Test <test@test.com>")
	_, err = v.run("", "key", "import", privatePath)
	require.NoError(t, err)

	out, err = v.run("", "--json", "key", "ls")
	require.NoError(t, err)
	var recipients []string
	require.NoError(t, json.Unmarshal([]byte(out), &recipients))
	require.Equal(t, []string{"Vault Test <test@test.com>"}, recipients)

	_, err = v.run("", "init")
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(dir, "vault.gpg"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("-----BEGIN PGP MESSAGE-----")))

	_, err = v.run("gpg-pass\n", "--passphrase-stdin", "add", "--name", "Test4", "--user", "u", "--secret", "s1")
	require.NoError(t, err)
	out, err = v.run("gpg-pass\n", "--passphrase-stdin", "show", "Test4")
	require.NoError(t, err)
	require.Contains(t, out, "secret:  s1\n")

	_, err = v.run("wrong\n", "--passphrase-stdin", "show", "Test4")
	require.Equal(t, ExitCodeAuthFailed, exitCode(err))
}

func TestKeyImportRejectsGarbage(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	garbage := filepath.Join(t.TempDir(), "garbage.asc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	_, err := v.run("", "key", "import", garbage)
	require.ErrorIs(t, err, crypto.ErrKeyImportFailed)

	_, err = v.run("", "key", "import", filepath.Join(t.TempDir(), "missing.asc"))
	require.Equal(t, ExitCodeIO, exitCode(err))
}

func TestParseTargetRef(t *testing.T) {
	t.Parallel()

	ref, err := parseTargetRef("#12")
	require.NoError(t, err)
	require.Equal(t, storage.ByID(12), ref)

	ref, err = parseTargetRef("Test4")
	require.NoError(t, err)
	require.Equal(t, storage.ByName("Test4"), ref)

	ref, err = parseTargetRef("##12")
	require.NoError(t, err)
	require.Equal(t, storage.ByName("#12"), ref)

	ref, err = parseTargetRef("###tag")
	require.NoError(t, err)
	require.Equal(t, storage.ByName("##tag"), ref)

	for _, bad := range []string{"", "#", "#0", "#-1", "#abc"} {
		_, err := parseTargetRef(bad)
		require.Equalf(t, ExitCodeUsage, exitCode(err), "input %q", bad)
	}
}

func TestHashPrefixedTargetName(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	_, err := v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	_, err = v.run("pw\n", "--passphrase-stdin", "add", "--name", "#ops", "--user", "u", "--secret", "s1")
	require.NoError(t, err)

	_, err = v.run("pw\n", "--passphrase-stdin", "show", "#ops")
	require.Equal(t, ExitCodeUsage, exitCode(err))

	_, err = v.run("pw\n", "--passphrase-stdin", "rotate", "##ops", "--secret", "s2")
	require.NoError(t, err)
	out, err := v.run("pw\n", "--passphrase-stdin", "show", "##ops")
	require.NoError(t, err)
	require.Contains(t, out, "secret:  s2\n")
}

func TestParseAttributes(t *testing.T) {
	t.Parallel()

	attrs, err := parseAttributes([]string{"a-key=remember1", "empty=", "pin=1=2"})
	require.NoError(t, err)
	require.Equal(t, []storage.Attribute{
		{Key: "a-key", Value: "remember1"},
		{Key: "empty", Value: ""},
		{Key: "pin", Value: "1=2"},
	}, attrs)

	attrs, err = parseAttributes(nil)
	require.NoError(t, err)
	require.Nil(t, attrs)

	for _, bad := range [][]string{{"novalue"}, {"=v"}, {"k=1", "k=2"}} {
		_, err := parseAttributes(bad)
		require.Equalf(t, ExitCodeUsage, exitCode(err), "input %v", bad)
	}
}

func TestReadPassphraseLine(t *testing.T) {
	t.Parallel()

	got, err := readPassphraseLine(strings.NewReader("pass word\r\nsecond line\n"))
	require.NoError(t, err)
	require.Equal(t, []byte("pass word"), got)

	got, err = readPassphraseLine(strings.NewReader("no-newline"))
	require.NoError(t, err)
	require.Equal(t, []byte("no-newline"), got)

	src := &passphraseSource{fromStdin: true, in: strings.NewReader("\n")}
	_, err = src.get()
	require.ErrorIs(t, err, errNoPassphrase)
}

func TestMapCommandError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", app.ErrValidation), ExitCodeUsage},
		{fmt.Errorf("wrap: %w", config.ErrInvalidConfig), ExitCodeUsage},
		{fmt.Errorf("wrap: %w", storage.ErrEmptyAttributeKey), ExitCodeUsage},
		{fmt.Errorf("wrap: %w", storage.ErrNoCredential), ExitCodeNotFound},
		{fmt.Errorf("wrap: %w", storage.ErrNoPriorCredential), ExitCodeNotFound},
		{fmt.Errorf("wrap: %w", crypto.ErrDecryptionFailed), ExitCodeAuthFailed},
		{fmt.Errorf("wrap: %w", crypto.ErrKeyImportFailed), ExitCodeDependencyMissing},
		{fmt.Errorf("wrap: %w", app.ErrIOFailure), ExitCodeIO},
		{fmt.Errorf("wrap: %w", dump.ErrUnsupportedVersion), ExitCodeGeneric},
		{&os.PathError{Op: "open", Path: "/x", Err: os.ErrExist}, ExitCodeIO},
		{errors.New("boom"), ExitCodeGeneric},
		{&ExitError{Code: ExitCodeLocked, Err: errors.New("held")}, ExitCodeLocked},
	}
	for _, tc := range cases {
		require.Equalf(t, tc.want, exitCode(mapCommandError(tc.err)), "error %v", tc.err)
	}
	require.NoError(t, mapCommandError(nil))
}

func TestGenerateManPagesCreatesFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, GenerateManPages(dir, testBuildInfo()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	_, err = os.Stat(filepath.Join(dir, "gpgvault.1"))
	require.NoError(t, err)
}

func TestCompletionGeneration(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	out, err := v.run("", "completion", "bash")
	require.NoError(t, err)
	require.Contains(t, out, "gpgvault")
}

type testVault struct {
	t          *testing.T
	configPath string
	vaultPath  string
	env        map[string]string
}

// newEnvelopeVault configures a passphrase-sealed vault with the cheapest
// accepted Argon2 parameters.
func newEnvelopeVault(t *testing.T) *testVault {
	t.Helper()

	dir := t.TempDir()
	return newTestVault(t, dir, fmt.Sprintf(`
[vault]
path = %q
recipient = "laptop"
backend = "envelope"

[envelope]
argon2_memory_kib = 32768
argon2_iterations = 1
`, filepath.Join(dir, "vault.gpg")))
}

func newTestVault(t *testing.T, dir, configTOML string) *testVault {
	t.Helper()

	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(configTOML), 0o600))
	return &testVault{
		t:          t,
		configPath: configPath,
		vaultPath:  filepath.Join(dir, "vault.gpg"),
		env: map[string]string{
			"GPGVAULT_HOME": filepath.Join(dir, "data"),
			"GNUPGHOME":     filepath.Join(dir, "gnupg"),
		},
	}
}

func (v *testVault) run(stdin string, args ...string) (string, error) {
	v.t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCommand(commandDeps{
		out:     &out,
		errOut:  &errOut,
		globals: &GlobalOptions{},
		build:   testBuildInfo(),
		env:     v.env,
	})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", v.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   "1.2.3",
		Commit:    "abc123",
		BuildTime: "2026-02-19T00:00:00Z",
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var withExit interface{ ExitCode() int }
	if errors.As(err, &withExit) {
		return withExit.ExitCode()
	}
	return -1
}

func newArmoredKey(t *testing.T, name, email string, passphrase []byte) (public, private []byte) {
	t.Helper()

	entity, err := openpgp.NewEntity(name, "", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var pub bytes.Buffer
	w, err := armor.Encode(&pub, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	require.NoError(t, entity.EncryptPrivateKeys(passphrase, nil))
	var sec bytes.Buffer
	w, err = armor.Encode(&sec, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivateWithoutSigning(w, nil))
	require.NoError(t, w.Close())

	return pub.Bytes(), sec.Bytes()
}

func TestDoctorReportsChecks(t *testing.T) {
	t.Parallel()

	v := newEnvelopeVault(t)
	bundlePath := filepath.Join(t.TempDir(), "bundle.json")

	out, err := v.run("", "doctor", "--bundle", bundlePath)
	require.NoError(t, err)
	require.Contains(t, out, "config: ok")
	require.Contains(t, out, "argon2: ok (32768 KiB, 1 iterations")
	require.Contains(t, out, "vault: ok (not created yet")

	_, err = v.run("pw\n", "--passphrase-stdin", "init")
	require.NoError(t, err)
	out, err = v.run("", "--json", "doctor")
	require.NoError(t, err)
	var bundle struct {
		Config map[string]string `json:"config"`
		Checks []struct {
			Name string `json:"name"`
			OK   bool   `json:"ok"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &bundle))
	require.Equal(t, "envelope", bundle.Config["backend"])
	names := make([]string, 0, len(bundle.Checks))
	for _, check := range bundle.Checks {
		require.Truef(t, check.OK, "check %s", check.Name)
		names = append(names, check.Name)
	}
	require.Equal(t, []string{"config", "recipient", "argon2", "vault", "lock"}, names)

	_, err = os.Stat(bundlePath)
	require.NoError(t, err)
}

func TestDoctorFailsOnMissingKeyMaterial(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newTestVault(t, dir, fmt.Sprintf(`
[vault]
path = %q
recipient = "test@test.com"

[gnupg]
home = %q
`, filepath.Join(dir, "vault.gpg"), filepath.Join(dir, "gnupg")))

	out, err := v.run("", "doctor")
	require.Error(t, err)
	require.Equal(t, ExitCodeGeneric, exitCode(err))
	require.Contains(t, out, "keyfile: fail")

	public, _ := newArmoredKey(t, "Vault Test", "test@test.com", []byte("gpg-pass"))
	publicPath := filepath.Join(dir, "pub.asc")
	require.NoError(t, os.WriteFile(publicPath, public, 0o600))
	_, err = v.run("", "key", "import", publicPath)
	require.NoError(t, err)

	out, err = v.run("", "doctor")
	require.Error(t, err)
	require.Contains(t, out, "keyfile: ok")
	require.Contains(t, out, "secret-key: fail")
}

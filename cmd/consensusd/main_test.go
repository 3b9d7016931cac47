package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

const (
	subprocessEnv = "CONSENSUSD_SUBPROCESS"
	configPathEnv = "CONSENSUSD_CONFIG"
)

func TestConsensusdFailsOnInvalidConfig(t *testing.T) {
	if os.Getenv(subprocessEnv) == "1" {
		cfgPath := os.Getenv(configPathEnv)
		if cfgPath == "" {
			t.Fatalf("missing %s", configPathEnv)
		}
		os.Args = []string{"consensusd", "--config", cfgPath}
		main()
		return
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:0"
DataDir = %q
ValidatorID = "deadbeef"
ValidatorKey = "deadbeef"
BootstrapPeers = []

QuorumRatioThousandths = 0
MaxViewChanges = 10
LivenessTimeoutMs = 10000

MinSelfBond = "1"
MinDelegation = "1"
MaxValidators = 100
UnbondingPeriodSecs = 1814400

DoubleSignPenaltyBp = 1000
EquivocationPenaltyBp = 500
LivenessPenaltyBp = 100
JailDurationSecs = 604800

CoordinationTimeoutMs = 10000
SettlementTimeoutMs = 30000
RollbackTimeoutMs = 30000
XDomainBatchSize = 16
XDomainMaxRetries = 3
`, filepath.Join(dir, "data"))
	if err := os.WriteFile(cfgPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestConsensusdFailsOnInvalidConfig$")
	cmd.Env = append(os.Environ(), subprocessEnv+"=1", configPathEnv+"="+cfgPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err == nil {
		t.Fatalf("expected consensusd to exit with error, output=%s", output.String())
	} else if exitErr, ok := err.(*exec.ExitError); ok {
		if exitErr.ExitCode() == 0 {
			t.Fatalf("expected non-zero exit code")
		}
	} else {
		t.Fatalf("unexpected error type: %v", err)
	}

	if !strings.Contains(output.String(), "invalid configuration") {
		t.Fatalf("expected output to mention invalid configuration, got %s", output.String())
	}
}

func TestParseBootstrapPeers(t *testing.T) {
	peers, err := parseBootstrapPeers([]string{
		" val-2@aabbccdd@127.0.0.1:26657 ",
		"",
	})
	if err != nil {
		t.Fatalf("parseBootstrapPeers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(peers))
	}
	peer, ok := peers["val-2"]
	if !ok {
		t.Fatalf("expected val-2 to be present")
	}
	if peer.addr != "127.0.0.1:26657" {
		t.Fatalf("unexpected addr %q", peer.addr)
	}
	if len(peer.publicKey) != 4 {
		t.Fatalf("expected 4-byte decoded public key, got %d bytes", len(peer.publicKey))
	}
}

func TestParseBootstrapPeersRejectsMalformedEntry(t *testing.T) {
	if _, err := parseBootstrapPeers([]string{"missing-fields"}); err == nil {
		t.Fatalf("expected an error for a malformed bootstrap peer entry")
	}
}

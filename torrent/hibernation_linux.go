package torrent

import (
	"fmt"
	"io"
	"os/exec"
)

// SystemInhibitor returns an inhibitor backed by systemd-inhibit, or a no-op
// when the binary is not available.
func SystemInhibitor() Inhibitor {
	p, err := exec.LookPath("systemd-inhibit")
	if err != nil {
		return noopInhibitor{}
	}
	return &systemdInhibitor{bin: p}
}

type systemdInhibitor struct {
	bin string
}

func (s *systemdInhibitor) Inhibit(reason string) (io.Closer, error) {
	cmd := exec.Command(s.bin,
		"--what=sleep:idle",
		"--who=torsync",
		"--why="+reason,
		"--mode=block",
		"sleep", "infinity",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting systemd-inhibit: %w", err)
	}
	return &inhibitProcess{cmd: cmd}, nil
}

type inhibitProcess struct {
	cmd *exec.Cmd
}

func (p *inhibitProcess) Close() error {
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	// killed on purpose, the exit status carries no information
	_ = p.cmd.Wait()
	return nil
}

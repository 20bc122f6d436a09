package execrunner

import (
	"bytes"
	"os"
	osexec "os/exec"
	"path/filepath"
)

// attachStreams wires cmd.Stdout/Stderr to either a capture file (when a
// path is configured) or an in-memory buffer, and always redirects stdin to
// /dev/null so invoked processes never block on interactive input.
func attachStreams(cmd *osexec.Cmd, opts RunOpts) (stdoutBuf, stderrBuf *bytes.Buffer, stdoutFile, stderrFile, devnullFile *os.File, err error) {
	if opts.StdoutPath != "" {
		stdoutFile, err = openCapture(opts.StdoutPath)
		if err != nil {
			return nil, nil, nil, nil, nil, err
		}
		cmd.Stdout = stdoutFile
	} else {
		stdoutBuf = &bytes.Buffer{}
		cmd.Stdout = stdoutBuf
	}

	if opts.StderrPath != "" {
		stderrFile, err = openCapture(opts.StderrPath)
		if err != nil {
			closeAll(stdoutFile)
			return nil, nil, nil, nil, nil, err
		}
		cmd.Stderr = stderrFile
	} else {
		stderrBuf = &bytes.Buffer{}
		cmd.Stderr = stderrBuf
	}

	if opts.Stdin != nil {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
		return stdoutBuf, stderrBuf, stdoutFile, stderrFile, nil, nil
	}

	devnullFile, err = os.Open(os.DevNull)
	if err != nil {
		closeAll(stdoutFile, stderrFile)
		return nil, nil, nil, nil, nil, err
	}
	cmd.Stdin = devnullFile

	return stdoutBuf, stderrBuf, stdoutFile, stderrFile, devnullFile, nil
}

func openCapture(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

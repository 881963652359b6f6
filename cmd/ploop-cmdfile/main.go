// Command ploop-cmdfile replays a line-oriented script of stack
// operations, one command per line:
//
//	add PATH        add PATH as the next (topmost so far) delta
//	open MODE       open the accumulated deltas read-write; MODE (r, rw or w) is checked but not used
//	read OFF SZ F   read SZ bytes at OFF into file F
//	write OFF SZ F  write SZ bytes at OFF from file F
//	close           close the open stack
//
// Blank lines and lines starting with # are ignored. Exit code 1 means an
// engine or I/O failure; exit code 2 means the script itself was
// malformed or referenced an unopened/already-open stack.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vzstorage/ploop"
)

type player struct {
	logger     *zap.Logger
	deltas     []string
	img        *ploop.Image
	lineNumber int
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: ploop-cmdfile SCRIPT")
		os.Exit(2)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "ploop-cmdfile:", err)
		os.Exit(2)
	}
	defer f.Close()

	logger := zap.NewNop()
	p := &player{logger: logger}

	code, err := p.run(f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ploop-cmdfile:", err)
	}
	if p.img != nil {
		p.img.Close()
	}
	os.Exit(code)
}

func (p *player) run(f *os.File) (int, error) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		p.lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		cmd := fields[0]
		args := fields[1:]

		var err error
		var usageErr bool

		switch cmd {
		case "add":
			usageErr, err = p.cmdAdd(args)
		case "open":
			usageErr, err = p.cmdOpen(args)
		case "read":
			usageErr, err = p.cmdRead(args)
		case "write":
			usageErr, err = p.cmdWrite(args)
		case "close":
			usageErr, err = p.cmdClose(args)
		default:
			usageErr, err = true, fmt.Errorf("unknown command %q", cmd)
		}

		if err != nil {
			if usageErr {
				return 2, fmt.Errorf("line %d: %w", p.lineNumber, err)
			}
			return 1, fmt.Errorf("line %d: %w", p.lineNumber, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return 2, err
	}
	return 0, nil
}

func (p *player) cmdAdd(args []string) (usageErr bool, err error) {
	if len(args) != 1 {
		return true, fmt.Errorf("add: want PATH")
	}
	p.deltas = append(p.deltas, args[0])
	return false, nil
}

func (p *player) cmdOpen(args []string) (usageErr bool, err error) {
	if len(args) != 1 {
		return true, fmt.Errorf("open: want MODE")
	}
	if p.img != nil {
		return true, fmt.Errorf("open: stack already open")
	}
	if len(p.deltas) == 0 {
		return true, fmt.Errorf("open: no deltas added")
	}

	// MODE is checked but selects nothing: the stack is always opened
	// read-write.
	switch args[0] {
	case "r", "rw", "w":
	default:
		return true, fmt.Errorf("open: invalid mode %q", args[0])
	}

	img, err := ploop.Open(p.deltas, ploop.ModeReadWrite, ploop.WithLogger(p.logger))
	if err != nil {
		return false, err
	}
	p.img = img
	return false, nil
}

func (p *player) cmdRead(args []string) (usageErr bool, err error) {
	offset, size, path, usageErr, err := parseIOArgs(args)
	if err != nil {
		return usageErr, err
	}
	if p.img == nil {
		return true, fmt.Errorf("read: no stack open")
	}

	buf := make([]byte, size)
	n, err := p.img.Read(offset, buf)
	if err != nil {
		return false, fmt.Errorf("read: %w", err)
	}
	if err := os.WriteFile(path, buf[:n], 0o644); err != nil {
		return false, fmt.Errorf("read: writing %q: %w", path, err)
	}
	return false, nil
}

func (p *player) cmdWrite(args []string) (usageErr bool, err error) {
	offset, size, path, usageErr, err := parseIOArgs(args)
	if err != nil {
		return usageErr, err
	}
	if p.img == nil {
		return true, fmt.Errorf("write: no stack open")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("write: reading %q: %w", path, err)
	}
	if uint64(len(data)) < size {
		return true, fmt.Errorf("write: %q is shorter than requested size %d", path, size)
	}

	if _, err := p.img.Write(offset, data[:size]); err != nil {
		return false, fmt.Errorf("write: %w", err)
	}
	return false, nil
}

// cmdClose matches the bare "close" keyword directly; the command-file
// format this driver replays historically matched "close " with a
// trailing space, so a bare close line was silently treated as an
// unrecognized command. That bug is not reproduced here.
func (p *player) cmdClose(args []string) (usageErr bool, err error) {
	if len(args) != 0 {
		return true, fmt.Errorf("close: takes no arguments")
	}
	if p.img == nil {
		return true, fmt.Errorf("close: no stack open")
	}
	err = p.img.Close()
	p.img = nil
	if err != nil {
		return false, fmt.Errorf("close: %w", err)
	}
	return false, nil
}

func parseIOArgs(args []string) (offset, size uint64, path string, usageErr bool, err error) {
	if len(args) != 3 {
		return 0, 0, "", true, fmt.Errorf("want OFFSET SIZE FILE")
	}
	offset, err = strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, 0, "", true, fmt.Errorf("bad offset %q: %w", args[0], err)
	}
	size, err = strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return 0, 0, "", true, fmt.Errorf("bad size %q: %w", args[1], err)
	}
	return offset, size, args[2], false, nil
}

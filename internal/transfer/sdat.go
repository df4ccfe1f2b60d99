package transfer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// blockSize is the unit every transfer list speaks in.
const blockSize = 4096

// blockRange is a half-open [start, end) run of 4096-byte blocks.
type blockRange struct {
	start int
	end   int
}

type transferCommand struct {
	op     string
	ranges []blockRange
}

// transferList is a parsed .transfer.list manifest.
type transferList struct {
	Version   int
	NewBlocks int
	commands  []transferCommand
}

// parseRangeSet decodes the "count,a,b,a,b,..." rangeset encoding.
func parseRangeSet(s string) ([]blockRange, error) {
	fields := strings.Split(s, ",")
	nums := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad rangeset %q: %w", s, err)
		}
		nums = append(nums, n)
	}
	if len(nums) == 0 || len(nums) != nums[0]+1 || nums[0]%2 != 0 {
		return nil, fmt.Errorf("bad rangeset %q: count mismatch", s)
	}
	ranges := make([]blockRange, 0, nums[0]/2)
	for i := 1; i < len(nums); i += 2 {
		if nums[i] > nums[i+1] {
			return nil, fmt.Errorf("bad rangeset %q: reversed range", s)
		}
		ranges = append(ranges, blockRange{start: nums[i], end: nums[i+1]})
	}
	return ranges, nil
}

func parseTransferList(r io.Reader) (*transferList, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	readLine := func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	versionLine, err := readLine()
	if err != nil {
		return nil, fmt.Errorf("transfer list: missing version: %w", err)
	}
	version, err := strconv.Atoi(versionLine)
	if err != nil {
		return nil, fmt.Errorf("transfer list: bad version %q", versionLine)
	}
	blocksLine, err := readLine()
	if err != nil {
		return nil, fmt.Errorf("transfer list: missing block count: %w", err)
	}
	newBlocks, err := strconv.Atoi(blocksLine)
	if err != nil {
		return nil, fmt.Errorf("transfer list: bad block count %q", blocksLine)
	}

	// Version 2 introduced the stash lines; skip them.
	if version >= 2 {
		for i := 0; i < 2; i++ {
			if _, err := readLine(); err != nil {
				return nil, fmt.Errorf("transfer list: truncated header: %w", err)
			}
		}
	}

	list := &transferList{Version: version, NewBlocks: newBlocks}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		op := fields[0]
		switch op {
		case "new", "erase", "zero":
			if len(fields) != 2 {
				return nil, fmt.Errorf("transfer list: %s without rangeset", op)
			}
			ranges, err := parseRangeSet(fields[1])
			if err != nil {
				return nil, err
			}
			list.commands = append(list.commands, transferCommand{op: op, ranges: ranges})
		default:
			// Version 1 lists number their commands; anything else
			// non-numeric is a manifest we do not understand.
			if _, err := strconv.Atoi(op); err != nil {
				return nil, fmt.Errorf("transfer list: unknown command %q", op)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// maxBlock returns the highest block any command touches, which fixes the
// output image length.
func (l *transferList) maxBlock() int {
	max := 0
	for _, cmd := range l.commands {
		for _, r := range cmd.ranges {
			if r.end > max {
				max = r.end
			}
		}
	}
	return max
}

// ReplayTransferList rebuilds a raw image from a transfer list and its
// .new.dat blob, returning the manifest version. The output is truncated to
// the exact block span the list declares; erase and zero ranges are left as
// holes.
func ReplayTransferList(listPath, datPath, outPath string) (int, error) {
	listFile, err := os.Open(listPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open transfer list: %w", err)
	}
	defer listFile.Close()

	list, err := parseTransferList(listFile)
	if err != nil {
		return 0, err
	}

	dat, err := os.Open(datPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open new.dat: %w", err)
	}
	defer dat.Close()

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create output image: %w", err)
	}
	defer out.Close()

	datReader := bufio.NewReaderSize(dat, 1<<20)
	for _, cmd := range list.commands {
		if cmd.op != "new" {
			continue
		}
		for _, r := range cmd.ranges {
			if _, err := out.Seek(int64(r.start)*blockSize, io.SeekStart); err != nil {
				return 0, fmt.Errorf("failed to seek output: %w", err)
			}
			n := int64(r.end-r.start) * blockSize
			if _, err := io.CopyN(out, datReader, n); err != nil {
				return 0, fmt.Errorf("new.dat ended early at block %d: %w", r.start, err)
			}
		}
	}
	if err := out.Truncate(int64(list.maxBlock()) * blockSize); err != nil {
		return 0, fmt.Errorf("failed to size output image: %w", err)
	}
	return list.Version, nil
}

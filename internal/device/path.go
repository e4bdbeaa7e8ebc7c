package device

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ehrlich-b/go-fdpstat/internal/interfaces"
)

var (
	blockNodeRe   = regexp.MustCompile(`^/dev/nvme(\d+)n(\d+)$`)
	genericNodeRe = regexp.MustCompile(`^/dev/ng(\d+)n(\d+)$`)
)

// SysfsRoot is where namespace attributes are read from
var SysfsRoot = "/sys"

// GenericPath maps a namespace block node (/dev/nvmeXnY) to its generic
// char node (/dev/ngXnY), which is what passthrough rings bind to.
// Other paths are returned unchanged.
func GenericPath(path string) string {
	m := blockNodeRe.FindStringSubmatch(path)
	if m == nil {
		return path
	}
	return "/dev/ng" + m[1] + "n" + m[2]
}

// blockName returns the sysfs block name (nvmeXnY) for a namespace node
func blockName(path string) (string, bool) {
	if m := blockNodeRe.FindStringSubmatch(path); m != nil {
		return "nvme" + m[1] + "n" + m[2], true
	}
	if m := genericNodeRe.FindStringSubmatch(path); m != nil {
		return "nvme" + m[1] + "n" + m[2], true
	}
	return "", false
}

// ReadGeometry reads namespace attributes from sysfs. Missing attributes
// leave the corresponding fields zero.
func ReadGeometry(root, path string, nsid uint32) interfaces.Geometry {
	geo := interfaces.Geometry{NSID: nsid}

	name, ok := blockName(path)
	if !ok {
		return geo
	}
	dir := filepath.Join(root, "block", name)

	if v, err := readUint(filepath.Join(dir, "queue", "logical_block_size")); err == nil {
		geo.BlockSize = uint32(v)
	}
	// size is always in 512-byte sectors
	if v, err := readUint(filepath.Join(dir, "size")); err == nil && geo.BlockSize > 0 {
		geo.Blocks = v * 512 / uint64(geo.BlockSize)
	}
	if b, err := os.ReadFile(filepath.Join(dir, "device", "model")); err == nil {
		geo.Model = strings.TrimSpace(string(b))
	}
	return geo
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

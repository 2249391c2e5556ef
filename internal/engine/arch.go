package engine

import (
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

// Arch is the instruction set a Module is compiled for.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86_64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x64"
	default:
		return "unknown"
	}
}

// ParseArch accepts GOARCH style names as well as the short "x64".
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(s) {
	case "x64", "x86_64", "amd64", "x86-64":
		return ArchX86_64, nil
	default:
		return ArchUnknown, errors.New("unsupported architecture: %s (supported: x64)", s)
	}
}

// OS type
type OS int

const (
	OSLinux OS = iota
	OSMacOS
	OSWindows
)

func (o OS) String() string {
	switch o {
	case OSLinux:
		return "linux"
	case OSMacOS:
		return "macos"
	case OSWindows:
		return "windows"
	default:
		return "unknown"
	}
}

// ParseOS parses an OS string (GOOS values are accepted too).
func ParseOS(s string) (OS, error) {
	switch strings.ToLower(s) {
	case "linux":
		return OSLinux, nil
	case "macos", "darwin", "osx":
		return OSMacOS, nil
	case "windows", "win":
		return OSWindows, nil
	default:
		return 0, errors.New("unsupported OS: %s (supported: linux, macos, windows)", s)
	}
}

// Container is the executable file format the OS loader expects.
type Container int

const (
	ContainerELF Container = iota
	ContainerMachO
	ContainerPE
)

func (c Container) String() string {
	switch c {
	case ContainerELF:
		return "elf"
	case ContainerMachO:
		return "macho"
	case ContainerPE:
		return "pe"
	default:
		return "unknown"
	}
}

// Platform represents a target platform (architecture + OS)
type Platform struct {
	OS   OS
	Arch Arch
}

var (
	LinuxX64   = Platform{OS: OSLinux, Arch: ArchX86_64}
	MacOSX64   = Platform{OS: OSMacOS, Arch: ArchX86_64}
	WindowsX64 = Platform{OS: OSWindows, Arch: ArchX86_64}
)

// ParsePlatform parses "<os>-<arch>", e.g. "windows-x64" or "linux-amd64".
func ParsePlatform(s string) (Platform, error) {
	osName, archName, ok := strings.Cut(s, "-")
	if !ok {
		return Platform{}, errors.New("bad platform %q: want <os>-<arch>", s)
	}

	o, err := ParseOS(osName)
	if err != nil {
		return Platform{}, err
	}

	a, err := ParseArch(archName)
	if err != nil {
		return Platform{}, err
	}

	return Platform{OS: o, Arch: a}, nil
}

// String returns the canonical "<os>-<arch>" spelling.
func (p Platform) String() string {
	return fmt.Sprintf("%s-%s", p.OS, p.Arch)
}

// Container returns the executable format used on the platform.
func (p Platform) Container() Container {
	switch p.OS {
	case OSWindows:
		return ContainerPE
	case OSMacOS:
		return ContainerMachO
	default:
		return ContainerELF
	}
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(b []byte) (err error) {
	*p, err = ParsePlatform(string(b))
	return err
}

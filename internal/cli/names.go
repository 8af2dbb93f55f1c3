package cli

import (
	"fmt"
	"strings"
	"time"
)

var machineNames = map[uint16]string{
	0x0:    "Unknown",
	0x1d3:  "Matsushita AM33",
	0x8664: "x64",
	0x1c0:  "ARM little endian",
	0xaa64: "ARM64 little endian",
	0x1c4:  "ARM Thumb-2 little endian",
	0xebc:  "EFI byte code",
	0x14c:  "Intel 386+",
	0x200:  "Intel Itanium",
	0x6232: "LoongArch 32-bit",
	0x6264: "LoongArch 64-bit",
	0x9041: "Mitsubishi M32R little endian",
	0x266:  "MIPS16",
	0x366:  "MIPS with FPU",
	0x466:  "MIPS16 with FPU",
	0x1f0:  "Power PC little endian",
	0x1f1:  "Power PC with floating point support",
	0x166:  "MIPS little endian",
	0x5032: "RISC-V 32-bit",
	0x5064: "RISC-V 64-bit",
	0x5128: "RISC-V 128-bit",
	0x1a2:  "Hitachi SH3",
	0x1a3:  "Hitachi SH3 DSP",
	0x1a6:  "Hitachi SH4",
	0x1a8:  "Hitachi SH5",
	0x1c2:  "Thumb",
	0x169:  "MIPS little-endian WCE v2",
}

var subsystemNames = map[uint16]string{
	0:  "Unknown",
	1:  "Native",
	2:  "Windows GUI",
	3:  "Windows 控制台",
	5:  "OS/2 Console",
	7:  "Posix Console",
	8:  "Native Win9x driver",
	9:  "Windows CE",
	10: "EFI Application",
	11: "EFI driver with boot services",
	12: "EFI driver with run-time services",
	13: "EFI ROM Image",
	14: "XBOX",
	16: "Windows Boot Application",
}

var directoryNames = []string{
	"Export Table", "Import Table", "Resource Table", "Exception Table",
	"Certificate Table", "Base Relocation Table", "Debug", "Architecture",
	"Global Ptr", "TLS Table", "Load Config Table", "Bound Import", "IAT",
	"Delay Import Descriptor", "CLR Runtime Header", "Reserved",
}

func machineName(m uint16) string {
	if name, ok := machineNames[m]; ok {
		return name
	}
	return fmt.Sprintf("未知 (0x%X)", m)
}

func subsystemName(s uint16) string {
	if name, ok := subsystemNames[s]; ok {
		return name
	}
	return fmt.Sprintf("未知 (0x%X)", s)
}

func directoryName(i int) string {
	if i < len(directoryNames) {
		return directoryNames[i]
	}
	return fmt.Sprintf("Directory %d", i)
}

// coffCharacteristics summarises the COFF characteristics word.
func coffCharacteristics(c uint16) string {
	parts := make([]string, 0, 3)

	if c&0x0020 != 0 {
		parts = append(parts, "Large address aware")
	} else {
		parts = append(parts, "32-bit address space")
	}

	if c&0x2000 != 0 {
		parts = append(parts, "DLL")
	} else if c&0x0002 != 0 {
		parts = append(parts, "EXE")
	} else {
		parts = append(parts, "Object")
	}

	if c&0x0200 != 0 {
		parts = append(parts, "stripped")
	} else {
		parts = append(parts, "not stripped")
	}

	return strings.Join(parts, ", ")
}

// dllCharacteristics summarises the optional header DLL characteristics.
func dllCharacteristics(c uint16) string {
	var parts []string

	if c&0x0040 != 0 {
		parts = append(parts, "ASLR")
	}
	if c&0x0100 != 0 {
		parts = append(parts, "NX compatible")
	}
	if c&0x0400 != 0 {
		parts = append(parts, "No SEH")
	}
	if c&0x0800 != 0 {
		parts = append(parts, "Do not bind")
	} else {
		parts = append(parts, "Binding allowed")
	}

	return strings.Join(parts, ", ")
}

func formatTimestamp(ts uint32) string {
	if ts == 0 {
		return "未设置"
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

package types

import (
	"fmt"
	"sort"
	"strings"
)

// PlatformType is the value of the org.jetbrains.kotlin.platform.type attribute.
type PlatformType string

const (
	PlatformTypeCommon  PlatformType = "common"
	PlatformTypeJvm     PlatformType = "jvm"
	PlatformTypeAndroid PlatformType = "androidJvm"
	PlatformTypeJs      PlatformType = "js"
	PlatformTypeWasm    PlatformType = "wasm"
	PlatformTypeNative  PlatformType = "native"
)

// Fallback is the platform type consulted when no variant matches this one.
func (t PlatformType) Fallback() (PlatformType, bool) {
	if t == PlatformTypeAndroid {
		return PlatformTypeJvm, true
	}
	return "", false
}

// Platform is a concrete resolution target.
type Platform struct {
	Name         string
	Type         PlatformType
	NativeTarget string
}

func (p Platform) String() string {
	return p.Name
}

func (p Platform) IsIOS() bool {
	return strings.HasPrefix(p.Name, "IOS_")
}

var (
	PlatformCommon  = Platform{Name: "COMMON", Type: PlatformTypeCommon}
	PlatformJvm     = Platform{Name: "JVM", Type: PlatformTypeJvm}
	PlatformAndroid = Platform{Name: "ANDROID", Type: PlatformTypeAndroid}
	PlatformJs      = Platform{Name: "JS", Type: PlatformTypeJs}
	PlatformWasm    = Platform{Name: "WASM", Type: PlatformTypeWasm}

	PlatformLinuxX64           = native("LINUX_X64", "linux_x64")
	PlatformLinuxArm64         = native("LINUX_ARM64", "linux_arm64")
	PlatformMingwX64           = native("MINGW_X64", "mingw_x64")
	PlatformMacosX64           = native("MACOS_X64", "macos_x64")
	PlatformMacosArm64         = native("MACOS_ARM64", "macos_arm64")
	PlatformIosArm64           = native("IOS_ARM64", "ios_arm64")
	PlatformIosX64             = native("IOS_X64", "ios_x64")
	PlatformIosSimulatorArm64  = native("IOS_SIMULATOR_ARM64", "ios_simulator_arm64")
	PlatformAndroidNativeArm64 = native("ANDROID_NATIVE_ARM64", "android_arm64")
	PlatformTvosArm64          = native("TVOS_ARM64", "tvos_arm64")
	PlatformWatchosArm64       = native("WATCHOS_ARM64", "watchos_arm64")
)

func native(name, target string) Platform {
	return Platform{Name: name, Type: PlatformTypeNative, NativeTarget: target}
}

var platforms = map[string]Platform{}

func init() {
	for _, p := range []Platform{
		PlatformCommon, PlatformJvm, PlatformAndroid, PlatformJs, PlatformWasm,
		PlatformLinuxX64, PlatformLinuxArm64, PlatformMingwX64, PlatformMacosX64, PlatformMacosArm64,
		PlatformIosArm64, PlatformIosX64, PlatformIosSimulatorArm64, PlatformAndroidNativeArm64,
		PlatformTvosArm64, PlatformWatchosArm64,
	} {
		platforms[p.Name] = p
	}
}

// ParsePlatform accepts platform names case-insensitively ("jvm", "IOS_ARM64", "iosArm64").
func ParsePlatform(name string) (Platform, error) {
	normalized := strings.ToUpper(name)
	if p, ok := platforms[normalized]; ok {
		return p, nil
	}
	var b strings.Builder
	for i, r := range name {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	if p, ok := platforms[strings.ToUpper(b.String())]; ok {
		return p, nil
	}
	return Platform{}, fmt.Errorf("unknown platform %q", name)
}

// PlatformNames lists all known platform names, sorted.
func PlatformNames() []string {
	names := make([]string, 0, len(platforms))
	for n := range platforms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

//go:build windows

package osfacade

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/gamegov/optimizer/internal/oserr"
	"github.com/gamegov/optimizer/internal/types"
)

var (
	ntdll                       = windows.NewLazySystemDLL("ntdll.dll")
	procNtSetInformationProcess = ntdll.NewProc("NtSetInformationProcess")
	procNtSuspendProcess        = ntdll.NewProc("NtSuspendProcess")
	procNtResumeProcess         = ntdll.NewProc("NtResumeProcess")

	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procSetProcessInformation = kernel32.NewProc("SetProcessInformation")
)

const (
	processInformationClassIoPriority   = 33 // ProcessIoPriority
	threadInformationClassIoPriority    = 22 // ThreadIoPriority
	processInformationClassPagePriority = 39 // ProcessPagePriority
	processPowerThrottling              = 4  // ProcessPowerThrottling (PROCESS_INFORMATION_CLASS)

	jobObjectCPURateControlInformation = 15
	jobObjectExtendedLimitInformation  = 9

	jobObjectCPURateControlEnable           = 1
	jobObjectCPURateControlHardCap          = 2
	jobObjectLimitAffinity                  = 0x00000010
	processPowerThrottlingExecutionSpeed    = 0x1
	processPowerThrottlingIgnoreTimerResolution = 0x4
)

// windowsFacade is the real Facade implementation, grounded on
// original_source/core.py's ctypes WinDLL bindings (kernel32/ntdll/advapi32)
// translated to typed golang.org/x/sys/windows calls plus a small number of
// raw NtXxx syscalls that x/sys/windows does not expose directly.
type windowsFacade struct{}

// New returns the platform Facade: the real Windows implementation.
func New() Facade { return &windowsFacade{} }

func (windowsFacade) OpenProcess(pid types.ProcessId) (Handle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, uint32(pid))
	if err != nil {
		return InvalidHandle, classifyOpenErr("open_process", err)
	}
	return Handle(h), nil
}

func (windowsFacade) OpenThread(tid types.ThreadId) (Handle, error) {
	h, err := windows.OpenThread(windows.THREAD_ALL_ACCESS, false, uint32(tid))
	if err != nil {
		return InvalidHandle, classifyOpenErr("open_thread", err)
	}
	return Handle(h), nil
}

func (windowsFacade) CloseHandle(h Handle) error {
	if h == InvalidHandle {
		return nil
	}
	if err := windows.CloseHandle(windows.Handle(h)); err != nil {
		return oserr.New(oserr.Fatal, "close_handle", err)
	}
	return nil
}

func (windowsFacade) SetPriorityClass(h Handle, pc PriorityClass) error {
	if err := windows.SetPriorityClass(windows.Handle(h), nativePriorityClass(pc)); err != nil {
		return classifyCallErr("set_priority_class", err)
	}
	return nil
}

func (windowsFacade) SetPriorityBoostDisabled(h Handle, disabled bool) error {
	if err := windows.SetProcessPriorityBoost(windows.Handle(h), disabled); err != nil {
		return classifyCallErr("set_priority_boost", err)
	}
	return nil
}

func (windowsFacade) SetPagePriority(h Handle, p PagePriority) error {
	v := nativePagePriority(p)
	r, _, errno := procNtSetInformationProcess.Call(
		uintptr(h),
		uintptr(processInformationClassPagePriority),
		uintptr(unsafe.Pointer(&v)),
		unsafe.Sizeof(v),
	)
	return classifyNtStatus("set_page_priority", r, errno)
}

func (windowsFacade) SetProcessAffinityMask(h Handle, mask uint64) error {
	if err := windows.SetProcessAffinityMask(windows.Handle(h), uintptr(mask)); err != nil {
		return classifyCallErr("set_process_affinity", err)
	}
	return nil
}

func (windowsFacade) SetThreadAffinityMask(h Handle, mask uint64) error {
	prev, err := windows.SetThreadAffinityMask(windows.Handle(h), uintptr(mask))
	if err != nil {
		return classifyCallErr("set_thread_affinity", err)
	}
	_ = prev
	return nil
}

func (windowsFacade) SetIOPriority(h Handle, p IOPriority) error {
	v := nativeIOPriority(p)
	r, _, errno := procNtSetInformationProcess.Call(
		uintptr(h),
		uintptr(processInformationClassIoPriority),
		uintptr(unsafe.Pointer(&v)),
		unsafe.Sizeof(v),
	)
	return classifyNtStatus("set_io_priority", r, errno)
}

func (windowsFacade) SetThreadIOPriority(h Handle, p IOPriority) error {
	v := nativeIOPriority(p)
	r, _, errno := procNtSetInformationProcess.Call(
		uintptr(h),
		uintptr(threadInformationClassIoPriority),
		uintptr(unsafe.Pointer(&v)),
		unsafe.Sizeof(v),
	)
	return classifyNtStatus("set_thread_io_priority", r, errno)
}

// processPowerThrottlingState mirrors PROCESS_POWER_THROTTLING_STATE.
type processPowerThrottlingState struct {
	Version     uint32
	ControlMask uint32
	StateMask   uint32
}

func (windowsFacade) SetEfficiencyMode(h Handle, enabled bool) error {
	state := processPowerThrottlingState{
		Version:     1,
		ControlMask: processPowerThrottlingExecutionSpeed,
	}
	if enabled {
		state.StateMask = processPowerThrottlingExecutionSpeed
	}
	r, _, errno := procSetProcessInformation.Call(
		uintptr(h),
		uintptr(processPowerThrottling),
		uintptr(unsafe.Pointer(&state)),
		unsafe.Sizeof(state),
	)
	if r == 0 {
		return classifyCallErr("set_efficiency_mode", errno)
	}
	return nil
}

func (windowsFacade) TrimWorkingSet(h Handle) error {
	// -1, -1 requests the OS reclaim as many pages as it chooses (spec §4.5).
	if err := windows.SetProcessWorkingSetSizeEx(windows.Handle(h), ^uintptr(0), ^uintptr(0), 0); err != nil {
		return classifyCallErr("trim_working_set", err)
	}
	return nil
}

func (windowsFacade) SuspendProcess(h Handle) error {
	r, _, errno := procNtSuspendProcess.Call(uintptr(h))
	return classifyNtStatus("suspend_process", r, errno)
}

func (windowsFacade) ResumeProcess(h Handle) error {
	r, _, errno := procNtResumeProcess.Call(uintptr(h))
	return classifyNtStatus("resume_process", r, errno)
}

func (windowsFacade) CreateJobObject(name string) (Handle, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return InvalidHandle, oserr.New(oserr.Config, "create_job_object", err)
	}
	h, err := windows.CreateJobObject(nil, namePtr)
	if err != nil {
		return InvalidHandle, classifyCallErr("create_job_object", err)
	}
	return Handle(h), nil
}

func (windowsFacade) AssignProcessToJobObject(job, proc Handle) error {
	if err := windows.AssignProcessToJobObject(windows.Handle(job), windows.Handle(proc)); err != nil {
		return classifyCallErr("assign_job_object", err)
	}
	return nil
}

// jobObjectCPURateControlInfo mirrors JOBOBJECT_CPU_RATE_CONTROL_INFORMATION
// in its "hard cap as a percentage" shape.
type jobObjectCPURateControlInfo struct {
	ControlFlags uint32
	CPURate      uint32
}

func (windowsFacade) SetJobCPURate(job Handle, percent int) error {
	if percent < 1 || percent > 100 {
		return oserr.New(oserr.Config, "set_job_cpu_rate", fmt.Errorf("percent %d out of [1,100]", percent))
	}
	info := jobObjectCPURateControlInfo{
		ControlFlags: jobObjectCPURateControlEnable | jobObjectCPURateControlHardCap,
		CPURate:      uint32(percent * 100), // expressed in units of 1/100th of a percent
	}
	ok, _, err := procSetInformationJobObject.Call(
		uintptr(job),
		uintptr(jobObjectCPURateControlInformation),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ok == 0 {
		return classifyCallErr("set_job_cpu_rate", err)
	}
	return nil
}

// jobObjectExtendedLimitInfo is the minimal subset of
// JOBOBJECT_EXTENDED_LIMIT_INFORMATION needed to set an affinity mask.
type jobObjectExtendedLimitInfo struct {
	BasicLimitInformation struct {
		PerProcessUserTimeLimit int64
		PerJobUserTimeLimit     int64
		LimitFlags              uint32
		MinimumWorkingSetSize   uintptr
		MaximumWorkingSetSize   uintptr
		ActiveProcessLimit      uint32
		Affinity                uintptr
		PriorityClass           uint32
		SchedulingClass         uint32
	}
	IoInfo                    [48]byte // opaque IO_COUNTERS, unused here
	ProcessMemoryLimit        uintptr
	JobMemoryLimit            uintptr
	PeakProcessMemoryUsed     uintptr
	PeakJobMemoryUsed         uintptr
}

func (windowsFacade) SetJobAffinityMask(job Handle, mask uint64) error {
	var info jobObjectExtendedLimitInfo
	info.BasicLimitInformation.LimitFlags = jobObjectLimitAffinity
	info.BasicLimitInformation.Affinity = uintptr(mask)
	ok, _, err := procSetInformationJobObject.Call(
		uintptr(job),
		uintptr(jobObjectExtendedLimitInformation),
		uintptr(unsafe.Pointer(&info)),
		unsafe.Sizeof(info),
	)
	if ok == 0 {
		return classifyCallErr("set_job_affinity", err)
	}
	return nil
}

var procSetInformationJobObject = kernel32.NewProc("SetInformationJobObject")

func (windowsFacade) DeviceIoControl(dev Handle, code uint32, in []byte, outLen int) ([]byte, error) {
	out := make([]byte, outLen)
	var bytesReturned uint32
	var inPtr *byte
	if len(in) > 0 {
		inPtr = &in[0]
	}
	var outPtr *byte
	if outLen > 0 {
		outPtr = &out[0]
	}
	err := windows.DeviceIoControl(windows.Handle(dev), code, inPtr, uint32(len(in)), outPtr, uint32(outLen), &bytesReturned, nil)
	if err != nil {
		return nil, classifyCallErr("device_io_control", err)
	}
	return out[:bytesReturned], nil
}

func (windowsFacade) EnablePrivilege(name string) error {
	var token windows.Token
	proc := windows.CurrentProcess()
	if err := windows.OpenProcessToken(proc, windows.TOKEN_ADJUST_PRIVILEGES|windows.TOKEN_QUERY, &token); err != nil {
		return classifyCallErr("open_process_token", err)
	}
	defer token.Close()

	var luid windows.LUID
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return oserr.New(oserr.Config, "enable_privilege", err)
	}
	if err := windows.LookupPrivilegeValue(nil, namePtr, &luid); err != nil {
		return classifyCallErr("lookup_privilege_value", err)
	}

	priv := windows.Tokenprivileges{
		PrivilegeCount: 1,
		Privileges: [1]windows.LUIDAndAttributes{
			{Luid: luid, Attributes: windows.SE_PRIVILEGE_ENABLED},
		},
	}
	if err := windows.AdjustTokenPrivileges(token, false, &priv, 0, nil, nil); err != nil {
		return classifyCallErr("adjust_token_privileges", err)
	}
	return nil
}

func classifyOpenErr(op string, err error) error {
	if err == windows.ERROR_INVALID_PARAMETER {
		return oserr.New(oserr.Vanished, op, err)
	}
	if err == windows.ERROR_ACCESS_DENIED {
		return oserr.New(oserr.Denied, op, err)
	}
	return oserr.New(oserr.Transient, op, err)
}

func classifyCallErr(op string, err error) error {
	switch err {
	case windows.ERROR_ACCESS_DENIED:
		return oserr.New(oserr.Denied, op, err)
	case windows.ERROR_INVALID_HANDLE, windows.ERROR_INVALID_PARAMETER:
		return oserr.New(oserr.Vanished, op, err)
	case windows.ERROR_NOT_SUPPORTED:
		return oserr.New(oserr.Unsupported, op, err)
	default:
		if errno, ok := err.(syscall.Errno); ok && errno == 0 {
			return nil
		}
		return oserr.New(oserr.Transient, op, err)
	}
}

const (
	statusSuccess            = 0
	statusAccessDenied       = 0xC0000022
	statusNotImplemented     = 0xC0000002
	statusInvalidCid         = 0xC000000B // target thread/process no longer valid
)

func classifyNtStatus(op string, r uintptr, errno error) error {
	switch r {
	case statusSuccess:
		return nil
	case statusAccessDenied:
		return oserr.New(oserr.Denied, op, errno)
	case statusNotImplemented:
		return oserr.New(oserr.Unsupported, op, errno)
	case statusInvalidCid:
		return oserr.New(oserr.Vanished, op, errno)
	default:
		return oserr.New(oserr.Transient, op, fmt.Errorf("status 0x%x: %w", r, errno))
	}
}

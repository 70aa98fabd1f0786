package kernelmsg

// ConnectionStatus is the state of the websocket to the kernel.
type ConnectionStatus string

const (
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnDisconnected ConnectionStatus = "disconnected"
)

// KernelStatus is the kernel's execution state as last reported on iopub.
type KernelStatus string

const (
	KernelUnknown    KernelStatus = "unknown"
	KernelStarting   KernelStatus = StateStarting
	KernelIdle       KernelStatus = StateIdle
	KernelBusy       KernelStatus = StateBusy
	KernelRestarting KernelStatus = "restarting"
	KernelDead       KernelStatus = "dead"
)

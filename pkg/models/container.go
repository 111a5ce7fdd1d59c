package models

import "time"

// ContainerState is the lifecycle state of a tracked container.
type ContainerState string

const (
	ContainerCreating ContainerState = "creating"
	ContainerRunning  ContainerState = "running"
	ContainerStopped  ContainerState = "stopped"
	ContainerRemoved  ContainerState = "removed"
)

// ContainerWorkspacePath is the fixed in-container mount point for the
// host cwd; never configurable, per the runtime's pinned-mounts contract.
const ContainerWorkspacePath = "/workspace"

// ContainerHandle is ContainerRuntime's record of one tracked container.
// Sessions reference a handle by id; the handle itself is owned and
// persisted by ContainerRuntime.
type ContainerHandle struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`

	// Ports maps container port -> host port, populated after start.
	Ports map[int]int `json:"ports"`

	HostCwd      string `json:"hostCwd"`
	ContainerCwd string `json:"containerCwd"`

	State     ContainerState `json:"state"`
	CreatedAt time.Time      `json:"createdAt"`
}

// NewContainerHandle builds a handle with the container workdir pinned
// to ContainerWorkspacePath, as ContainerRuntime.Create always mounts it.
func NewContainerHandle(id, name, image, hostCwd string) *ContainerHandle {
	return &ContainerHandle{
		ID:           id,
		Name:         name,
		Image:        image,
		Ports:        make(map[int]int),
		HostCwd:      hostCwd,
		ContainerCwd: ContainerWorkspacePath,
		State:        ContainerCreating,
		CreatedAt:    time.Now(),
	}
}

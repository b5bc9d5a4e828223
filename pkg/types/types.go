package types

import "time"

// ChallengeState represents the deployability of a challenge
type ChallengeState string

const (
	// ChallengeStateReady means the image built and instances can be launched
	ChallengeStateReady ChallengeState = "ready"
	// ChallengeStateBroken means the image build failed and the challenge is excluded
	ChallengeStateBroken ChallengeState = "broken"
)

// Challenge is the static template from which instances are launched:
// the image name, the port the service listens on inside the container,
// resource caps, and the packing limit.
type Challenge struct {
	// Name is the unique identifier; it doubles as the Docker image tag.
	Name string `json:"name"`

	// InternalPort is the TCP port the challenge listens on inside
	// the container.
	InternalPort int `json:"port"`

	// MemLimitMB caps memory and memory+swap for every instance, in MiB.
	MemLimitMB int64 `json:"mem_limit"`

	// UserLimit is the maximum number of users packed onto one instance.
	UserLimit int `json:"user_limit"`

	// LifetimeSeconds is how long an idle (empty) instance may live
	// before the cleanup pass reclaims it. Zero means no idle expiry.
	LifetimeSeconds int64 `json:"lifetime,omitempty"`

	// CanPrestart marks the challenge safe to launch ahead of demand.
	CanPrestart bool `json:"can_prestart,omitempty"`
}

// MemLimitBytes converts the manifest MiB cap to the byte value the
// container runtime expects.
func (c *Challenge) MemLimitBytes() int64 {
	return c.MemLimitMB * 1024 * 1024
}

// Instance is one running container serving up to UserLimit users of a
// single challenge. The container ID is the instance ID.
type Instance struct {
	ContainerID  string   `json:"container_id"`
	Challenge    string   `json:"challenge"`
	ExternalPort int      `json:"external_port"`
	StartedAt    int64    `json:"started_at"`
	Users        []string `json:"users"`
	UserLimit    int      `json:"user_limit"`
}

// IsFull reports whether the instance has no free seats left.
func (i *Instance) IsFull() bool {
	return len(i.Users) >= i.UserLimit
}

// IsEmpty reports whether no users are assigned to the instance.
func (i *Instance) IsEmpty() bool {
	return len(i.Users) == 0
}

// FreeSeats returns the number of additional users the instance can take.
func (i *Instance) FreeSeats() int {
	n := i.UserLimit - len(i.Users)
	if n < 0 {
		return 0
	}
	return n
}

// HasUser reports whether the user is already seated on this instance.
func (i *Instance) HasUser(user string) bool {
	for _, u := range i.Users {
		if u == user {
			return true
		}
	}
	return false
}

// Attach seats a user on the instance. Callers check IsFull first.
func (i *Instance) Attach(user string) {
	i.Users = append(i.Users, user)
}

// Detach removes a user from the instance and reports whether the user
// was seated on it.
func (i *Instance) Detach(user string) bool {
	for n, u := range i.Users {
		if u == user {
			i.Users = append(i.Users[:n], i.Users[n+1:]...)
			return true
		}
	}
	return false
}

// StartedTime returns the launch time as a time.Time.
func (i *Instance) StartedTime() time.Time {
	return time.Unix(i.StartedAt, 0)
}

// Age returns how long the instance has been running as of now.
func (i *Instance) Age(now time.Time) time.Duration {
	return now.Sub(i.StartedTime())
}

// BrokerStats is the aggregate fleet view served by the stats endpoint.
type BrokerStats struct {
	// CurrentInstances is the number of live instances right now.
	CurrentInstances int64 `json:"current_instances"`

	// TotalInstances counts every instance ever launched, including
	// ones already reclaimed.
	TotalInstances int64 `json:"total_instances"`

	// CurrentUsers is the number of distinct users holding a seat.
	CurrentUsers int `json:"current_users"`

	// Challenges is the number of deployable challenges in the catalog.
	Challenges int `json:"challenges"`
}

// DockerStats is a point-in-time resource sample for one container,
// flattened from the runtime's raw stats stream.
type DockerStats struct {
	ContainerID   string  `json:"container_id"`
	MemUsageBytes uint64  `json:"mem_usage_bytes"`
	MemLimitBytes uint64  `json:"mem_limit_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	PIDs          uint64  `json:"pids"`
}

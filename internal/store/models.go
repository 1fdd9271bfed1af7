package store

import "time"

type ProjectStatus string

const (
	ProjectActive  ProjectStatus = "active"
	ProjectPaused  ProjectStatus = "paused"
	ProjectDeleted ProjectStatus = "deleted"
)

// ProjectConfig is the build/run configuration snapshot embedded in both
// Project and, at creation time, Deployment.
type ProjectConfig struct {
	Image         string  `json:"image"`
	RootDir       string  `json:"root_dir"`
	BuildCmd      string  `json:"build_cmd"`
	PreDeployCmd  string  `json:"pre_deploy_cmd"`
	StartCmd      string  `json:"start_cmd"`
	CPUs          float64 `json:"cpus"`
	MemoryMB      int     `json:"memory_mb"`
}

// Environment is embedded in Project.Environments. Index 0 is always
// production (id "prod").
type Environment struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Branch string `json:"branch"`
	Status string `json:"status"` // active|deleted
}

const ProductionEnvironmentID = "prod"
const ProductionSlug = "production"

type Project struct {
	ID             string
	Slug           string
	RepoRef        string
	InstallationID int64
	Environments []Environment
	EnvVars      string // encrypted ciphertext, see internal/crypto
	Config       ProjectConfig
	Status       ProjectStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DeploymentStatus string
type Conclusion string
type Trigger string
type ContainerStatus string

const (
	DeploymentQueued     DeploymentStatus = "queued"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentCompleted  DeploymentStatus = "completed"

	ConclusionSucceeded Conclusion = "succeeded"
	ConclusionFailed    Conclusion = "failed"
	ConclusionCanceled  Conclusion = "canceled"
	ConclusionSkipped   Conclusion = "skipped"

	TriggerWebhook Trigger = "webhook"
	TriggerUser    Trigger = "user"
	TriggerAPI     Trigger = "api"

	ContainerRunning ContainerStatus = "running"
	ContainerStopped ContainerStatus = "stopped"
	ContainerRemoved ContainerStatus = "removed"
	ContainerNone    ContainerStatus = ""
)

type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

type Deployment struct {
	ID              string
	ProjectID       string
	EnvironmentID   string
	Branch          string
	Commit          Commit
	Config          ProjectConfig
	EnvVars         string // encrypted snapshot
	ContainerID     string
	ContainerStatus ContainerStatus
	Status          DeploymentStatus
	Conclusion      Conclusion
	Trigger         Trigger
	JobID           string
	CreatedAt       time.Time
	ConcludedAt     *time.Time
	Version         int64 // optimistic-concurrency token
}

func (d Deployment) Settled(now time.Time, settleAfter time.Duration) bool {
	if d.Status != DeploymentCompleted {
		return false
	}
	if d.ContainerStatus != ContainerRunning {
		return true
	}
	return d.ConcludedAt != nil && now.Sub(*d.ConcludedAt) >= settleAfter
}

type AliasType string

const (
	AliasBranch        AliasType = "branch"
	AliasEnvironment   AliasType = "environment"
	AliasEnvironmentID AliasType = "environment_id"
)

type Alias struct {
	ID                   string
	Subdomain            string
	DeploymentID         string
	PreviousDeploymentID string
	Type                 AliasType
	Value                string
	EnvironmentID        string
	ProjectID            string
}

type DomainType string

const (
	DomainProxy DomainType = "proxy"
	Domain301   DomainType = "301"
	Domain302   DomainType = "302"
	Domain307   DomainType = "307"
	Domain308   DomainType = "308"
)

type DomainStatus string

const (
	DomainPending  DomainStatus = "pending"
	DomainActive   DomainStatus = "active"
	DomainFailed   DomainStatus = "failed"
	DomainDisabled DomainStatus = "disabled"
)

type Domain struct {
	ID                 string
	ProjectID          string
	Hostname           string
	Type               DomainType
	EnvironmentID      string
	RedirectToDomainID string
	Status             DomainStatus
}

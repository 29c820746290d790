package provider

// InstanceType describes one upstream GPU offering and its live capacity
type InstanceType struct {
	Name                string
	Description         string
	PriceCentsPerHour   int64
	RegionsWithCapacity []string
}

// HasCapacity reports whether the type is currently available in region
func (t InstanceType) HasCapacity(region string) bool {
	for _, r := range t.RegionsWithCapacity {
		if r == region {
			return true
		}
	}
	return false
}

// Instance is an upstream VM as the provider reports it
type Instance struct {
	ID           string
	Name         string
	Status       string
	IP           string
	Region       string
	InstanceType string
}

// Filesystem is an upstream persistent network filesystem
type Filesystem struct {
	ID         string
	Name       string
	Region     string
	MountPoint string
}

// SSHKey is an upstream-registered public key
type SSHKey struct {
	ID        string
	Name      string
	PublicKey string
}

// LaunchSpec describes one instance launch
type LaunchSpec struct {
	Name            string
	InstanceType    string
	Region          string
	SSHKeyNames     []string
	FilesystemNames []string
	UserData        string
}

// wire shapes; the upstream wraps every response in {"data": ...} and errors
// in {"error": {"code", "message"}}

type wireEnvelope[T any] struct {
	Data T `json:"data"`
}

type wireError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type wireRegion struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type wireInstanceType struct {
	InstanceType struct {
		Name              string `json:"name"`
		Description       string `json:"description"`
		PriceCentsPerHour int64  `json:"price_cents_per_hour"`
	} `json:"instance_type"`
	RegionsWithCapacityAvailable []wireRegion `json:"regions_with_capacity_available"`
}

type wireInstance struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	IP           string     `json:"ip"`
	Region       wireRegion `json:"region"`
	InstanceType struct {
		Name string `json:"name"`
	} `json:"instance_type"`
}

func (w wireInstance) toInstance() Instance {
	return Instance{
		ID:           w.ID,
		Name:         w.Name,
		Status:       w.Status,
		IP:           w.IP,
		Region:       w.Region.Name,
		InstanceType: w.InstanceType.Name,
	}
}

type wireFilesystem struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Region     wireRegion `json:"region"`
	MountPoint string     `json:"mount_point"`
}

func (w wireFilesystem) toFilesystem() Filesystem {
	return Filesystem{
		ID:         w.ID,
		Name:       w.Name,
		Region:     w.Region.Name,
		MountPoint: w.MountPoint,
	}
}

type wireSSHKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

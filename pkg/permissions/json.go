package permissions

import (
	"encoding/json"
	"strconv"
)

// The wire form of a PermissionSet flattens each wildcard key to the empty
// string (and resource ids to decimal strings) so that clients receive plain
// nested JSON objects. Authenticated responses carry permission sets in this
// form.

type jsonPermissionSet struct {
	ServicePermissions map[string]map[string]map[string]map[string]bool `json:"service_permissions"`
	RoleIDs            []int64                                          `json:"role_ids"`
}

// MarshalJSON implements json.Marshaler.
func (p *PermissionSet) MarshalJSON() ([]byte, error) {
	out := jsonPermissionSet{
		ServicePermissions: make(map[string]map[string]map[string]map[string]bool),
		RoleIDs:            p.RoleIDs(),
	}
	for service, bucket := range p.services {
		out.ServicePermissions[service] = marshalService(bucket)
	}
	if p.anyService != nil {
		out.ServicePermissions[""] = marshalService(p.anyService)
	}
	return json.Marshal(out)
}

func marshalService(p *servicePermission) map[string]map[string]map[string]bool {
	out := make(map[string]map[string]map[string]bool)
	for resourceType, bucket := range p.resourceTypes {
		out[resourceType] = marshalResourceType(bucket)
	}
	if p.anyType != nil {
		out[""] = marshalResourceType(p.anyType)
	}
	return out
}

func marshalResourceType(p *resourceTypePermission) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for resourceID, bucket := range p.resources {
		out[strconv.FormatInt(resourceID, 10)] = marshalResource(bucket)
	}
	if p.anyResource != nil {
		out[""] = marshalResource(p.anyResource)
	}
	return out
}

func marshalResource(p *resourcePermission) map[string]bool {
	out := make(map[string]bool, len(p.actions)+1)
	for action, allow := range p.actions {
		out[action] = allow
	}
	if p.anyAction != nil {
		out[""] = *p.anyAction
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PermissionSet) UnmarshalJSON(data []byte) error {
	var in jsonPermissionSet
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.services = make(map[string]*servicePermission)
	p.anyService = nil
	p.roleIDs = make(map[int64]struct{}, len(in.RoleIDs))
	for _, id := range in.RoleIDs {
		p.roleIDs[id] = struct{}{}
	}
	for service, types := range in.ServicePermissions {
		bucket := newServicePermission()
		for resourceType, resources := range types {
			typeBucket := newResourceTypePermission()
			for resourceID, actions := range resources {
				resourceBucket := newResourcePermission()
				for action, allow := range actions {
					if action == "" {
						value := allow
						resourceBucket.anyAction = &value
						continue
					}
					resourceBucket.actions[action] = allow
				}
				if resourceID == "" {
					typeBucket.anyResource = resourceBucket
					continue
				}
				id, err := strconv.ParseInt(resourceID, 10, 64)
				if err != nil {
					continue
				}
				typeBucket.resources[id] = resourceBucket
			}
			if resourceType == "" {
				bucket.anyType = typeBucket
				continue
			}
			bucket.resourceTypes[resourceType] = typeBucket
		}
		if service == "" {
			p.anyService = bucket
			continue
		}
		p.services[service] = bucket
	}
	return nil
}

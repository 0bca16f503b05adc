package hikcentral

import (
	"context"
	"encoding/json"
	"fmt"
)

// Endpoint paths are fixed by the vendor contract and must be reproduced
// exactly; they are also the URI line of the canonical signing string.
const (
	pathPersonAdd    = "/artemis/api/resource/v1/person/single/add"
	pathPersonUpdate = "/artemis/api/resource/v1/person/single/update"
	pathPersonDelete = "/artemis/api/resource/v1/person/single/delete"
	pathGrantAccess  = "/artemis/api/acs/v1/privilege/group/single/addPersons"
	pathRevokeAccess = "/artemis/api/acs/v1/privilege/group/single/deletePersons"
)

// Person is the provisioning payload for the access-control platform.
// Code is the upstream external worker id, reused as the vendor personCode.
type Person struct {
	Code       string
	FamilyName string
	GivenName  string
	Gender     int
	Phone      string
	Email      string
	FaceData   string // base64-encoded face image
	BeginTime  string // e.g. 2025-01-01T00:00:00+02:00
	EndTime    string
}

type faceEntry struct {
	FaceData string `json:"faceData"`
}

type listEntry struct {
	ID string `json:"id"`
}

// AddPerson creates the person and returns the remote person identifier.
//
// Whether re-submitting the same personCode after a partial failure is
// upsert-safe is the vendor's call; the engine persists a pending record and
// retries on a later poll, so a duplicate-intolerant deployment will surface
// the conflict here as a CallError.
func (c *Client) AddPerson(ctx context.Context, p Person) (string, error) {
	body := map[string]any{
		"personCode":       p.Code,
		"personFamilyName": p.FamilyName,
		"personGivenName":  p.GivenName,
		"gender":           p.Gender,
		"orgIndexCode":     c.cfg.OrgIndexCode,
		"phoneNo":          p.Phone,
		"email":            p.Email,
		"faces":            []faceEntry{{FaceData: p.FaceData}},
		"fingerPrint":      []any{},
		"cards":            []any{},
		"beginTime":        p.BeginTime,
		"endTime":          p.EndTime,
		"residentRoomNo":   1,
		"residentFloorNo":  1,
	}

	data, err := c.call(ctx, pathPersonAdd, body)
	if err != nil {
		return "", err
	}

	// The platform has returned the id under different keys across
	// versions; fall back to the person code we submitted.
	var resp struct {
		PersonID string `json:"personId"`
		ID       string `json:"id"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", fmt.Errorf("decode add person response: %w", err)
		}
	}
	switch {
	case resp.PersonID != "":
		return resp.PersonID, nil
	case resp.ID != "":
		return resp.ID, nil
	default:
		return p.Code, nil
	}
}

// UpdatePerson rewrites the person's descriptive fields and validity window.
func (c *Client) UpdatePerson(ctx context.Context, personID string, p Person) error {
	body := map[string]any{
		"personId":         personID,
		"personCode":       p.Code,
		"personFamilyName": p.FamilyName,
		"personGivenName":  p.GivenName,
		"orgIndexCode":     c.cfg.OrgIndexCode,
		"gender":           p.Gender,
		"phoneNo":          p.Phone,
		"email":            p.Email,
		"cards":            []any{},
		"beginTime":        p.BeginTime,
		"endTime":          p.EndTime,
		"residentRoomNo":   1,
		"residentFloorNo":  1,
		"remark":           "",
	}

	_, err := c.call(ctx, pathPersonUpdate, body)
	return err
}

func (c *Client) DeletePerson(ctx context.Context, personID string) error {
	_, err := c.call(ctx, pathPersonDelete, map[string]any{"personId": personID})
	return err
}

// GrantAccess adds the person to the configured privilege group, which is
// what actually opens doors for them.
func (c *Client) GrantAccess(ctx context.Context, personID string) error {
	_, err := c.call(ctx, pathGrantAccess, c.privilegeBody(personID))
	return err
}

// RevokeAccess removes the person from the privilege group.  The person
// record itself stays on the platform.
func (c *Client) RevokeAccess(ctx context.Context, personID string) error {
	_, err := c.call(ctx, pathRevokeAccess, c.privilegeBody(personID))
	return err
}

func (c *Client) privilegeBody(personID string) map[string]any {
	return map[string]any{
		"privilegeGroupId": c.cfg.PrivilegeGroupID,
		"type":             1,
		"list":             []listEntry{{ID: personID}},
	}
}

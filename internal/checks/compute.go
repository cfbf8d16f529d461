package checks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
)

const computeBase = "https://compute.googleapis.com"

// openFirewallCheck flags enabled VPC firewall rules open to 0.0.0.0/0.
type openFirewallCheck struct {
	client *CloudClient
}

func (c *openFirewallCheck) Name() string { return "Open Firewall Rules (any)" }

func (c *openFirewallCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var rules struct {
		Items []struct {
			Name         string   `json:"name"`
			Network      string   `json:"network"`
			Disabled     bool     `json:"disabled"`
			SourceRanges []string `json:"sourceRanges"`
		} `json:"items"`
	}
	url := fmt.Sprintf("%s/compute/v1/projects/%s/global/firewalls", computeBase, projectID)
	if err := c.client.GetJSON(ctx, url, &rules); err != nil {
		return "", nil, fmt.Errorf("listing firewall rules for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, rule := range rules.Items {
		if rule.Disabled {
			continue
		}
		for _, src := range rule.SourceRanges {
			if src == "0.0.0.0/0" {
				parts := strings.Split(rule.Network, "/")
				details = append(details, posture.Detail{
					"Project":   projectID,
					"Rule Name": rule.Name,
					"VPC":       parts[len(parts)-1],
				})
				break
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusActionRequired, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No firewall rules open to 0.0.0.0/0 found in %s.", projectID)), nil
}

type instanceAggregate struct {
	Items map[string]struct {
		Instances []struct {
			Name     string            `json:"name"`
			Labels   map[string]string `json:"labels"`
			Metadata struct {
				Items []struct {
					Key string `json:"key"`
				} `json:"items"`
			} `json:"metadata"`
		} `json:"instances"`
	} `json:"items"`
}

// standaloneVMsCheck flags running VMs outside any managed instance group,
// excluding GKE nodes and Dataproc workers.
type standaloneVMsCheck struct {
	client *CloudClient
}

func (c *standaloneVMsCheck) Name() string { return "Standalone VMs (Not in MIGs)" }

func (c *standaloneVMsCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var agg instanceAggregate
	url := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/instances?filter=status%%3DRUNNING", computeBase, projectID)
	if err := c.client.GetJSON(ctx, url, &agg); err != nil {
		return "", nil, fmt.Errorf("listing instances for %s: %w", projectID, err)
	}

	var standalone []string
	for _, zone := range agg.Items {
		for _, vm := range zone.Instances {
			if strings.HasPrefix(vm.Name, "gke-") {
				continue
			}
			if _, ok := vm.Labels["goog-dataproc-cluster-name"]; ok {
				continue
			}
			managed := false
			for _, item := range vm.Metadata.Items {
				if item.Key == "created-by" {
					managed = true
					break
				}
			}
			if !managed {
				standalone = append(standalone, vm.Name)
			}
		}
	}

	if len(standalone) > 0 {
		sort.Strings(standalone)
		details := []posture.Detail{{
			"Project":        projectID,
			"Standalone VMs": strings.Join(standalone, ", "),
		}}
		return posture.StatusInvestigationRecommended, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No running standalone, unmanaged VMs found in %s.", projectID)), nil
}

// unassociatedIPsCheck flags reserved static addresses not attached to any
// resource; they bill without serving traffic.
type unassociatedIPsCheck struct {
	client *CloudClient
}

func (c *unassociatedIPsCheck) Name() string { return "Unassociated IPs" }

func (c *unassociatedIPsCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var agg struct {
		Items map[string]struct {
			Addresses []struct {
				Name    string `json:"name"`
				Address string `json:"address"`
				Status  string `json:"status"`
				Region  string `json:"region"`
			} `json:"addresses"`
		} `json:"items"`
	}
	url := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/addresses", computeBase, projectID)
	if err := c.client.GetJSON(ctx, url, &agg); err != nil {
		return "", nil, fmt.Errorf("listing addresses for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, scope := range agg.Items {
		for _, addr := range scope.Addresses {
			if addr.Status == "RESERVED" {
				details = append(details, posture.Detail{
					"Project": projectID,
					"Address": addr.Name,
					"IP":      addr.Address,
					"Issue":   "Static IP is reserved but not in use.",
				})
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusInvestigationRecommended, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No unassociated static IPs found in %s.", projectID)), nil
}

// idleDisksCheck flags persistent disks not attached to any instance.
type idleDisksCheck struct {
	client *CloudClient
}

func (c *idleDisksCheck) Name() string { return "Idle Persistent Disks" }

func (c *idleDisksCheck) Run(ctx context.Context, projectID string) (posture.FindingStatus, []posture.Detail, error) {
	var agg struct {
		Items map[string]struct {
			Disks []struct {
				Name   string   `json:"name"`
				SizeGb string   `json:"sizeGb"`
				Users  []string `json:"users"`
			} `json:"disks"`
		} `json:"items"`
	}
	url := fmt.Sprintf("%s/compute/v1/projects/%s/aggregated/disks", computeBase, projectID)
	if err := c.client.GetJSON(ctx, url, &agg); err != nil {
		return "", nil, fmt.Errorf("listing disks for %s: %w", projectID, err)
	}

	var details []posture.Detail
	for _, zone := range agg.Items {
		for _, disk := range zone.Disks {
			if len(disk.Users) == 0 {
				details = append(details, posture.Detail{
					"Project": projectID,
					"Disk":    disk.Name,
					"Size":    disk.SizeGb + " GB",
					"Issue":   "Disk is not attached to any instance.",
				})
			}
		}
	}

	if len(details) > 0 {
		return posture.StatusInvestigationRecommended, details, nil
	}
	return posture.StatusCompliant,
		compliant(fmt.Sprintf("No idle persistent disks found in %s.", projectID)), nil
}

package tally

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/tally-ai/tally/internal/utils"
)

type Resume struct {
	ID                  int64          `json:"id"`
	ProfileID           int64          `json:"profile_id,omitempty"`
	JobPostingID        *int64         `json:"job_posting_id,omitempty"`
	Name                string         `json:"name"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Location            string         `json:"location,omitempty"`
	ProfessionalSummary string         `json:"professional_summary,omitempty"`
	CareerLevel         string         `json:"career_level,omitempty"`
	YearsExperience     int            `json:"years_experience,omitempty"`
	PrimaryDomain       string         `json:"primary_domain,omitempty"`
	Skills              map[string]any `json:"skills,omitempty"`
	Experience          map[string]any `json:"experience,omitempty"`
	Education           map[string]any `json:"education,omitempty"`
	Languages           map[string]any `json:"languages,omitempty"`
	FileType            string         `json:"file_type,omitempty"`
	Version             int            `json:"version,omitempty"`
	IsActive            bool           `json:"is_active"`
	CreatedAt           string         `json:"created_at,omitempty"`
	UpdatedAt           string         `json:"updated_at,omitempty"`
}

type Resumes struct {
	Items     []*Resume `json:"resumes"`
	Count     int       `json:"count"`
	UserEmail string    `json:"user_email,omitempty"`
}

// ResumeFilter narrows the public resume listing. Zero values are not sent.
type ResumeFilter struct {
	Limit         int
	Skill         string
	MinExperience int
}

func (f ResumeFilter) values() url.Values {
	q := url.Values{}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Skill != "" {
		q.Set("skill", f.Skill)
	}
	if f.MinExperience > 0 {
		q.Set("min_experience", strconv.Itoa(f.MinExperience))
	}
	return q
}

// NewResume is the body for resume creation.
type NewResume struct {
	Name                string         `json:"name"`
	ProfileID           int64          `json:"profile_id"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Location            string         `json:"location,omitempty"`
	ProfessionalSummary string         `json:"professional_summary,omitempty"`
	YearsExperience     int            `json:"years_experience,omitempty"`
	Skills              map[string]any `json:"skills,omitempty"`
}

// Profile is the canonical candidate record built from parsed resumes.
type Profile struct {
	ID                  int64          `json:"id"`
	UserID              int64          `json:"user_id"`
	Name                string         `json:"name"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	Location            string         `json:"location,omitempty"`
	OpenToRelocate      bool           `json:"open_to_relocate"`
	ProfessionalSummary string         `json:"professional_summary,omitempty"`
	CareerLevel         string         `json:"career_level,omitempty"`
	YearsExperience     int            `json:"years_experience,omitempty"`
	PrimaryDomain       string         `json:"primary_domain,omitempty"`
	Skills              map[string]any `json:"skills,omitempty"`
	Experience          map[string]any `json:"experience,omitempty"`
	Education           map[string]any `json:"education,omitempty"`
	Languages           map[string]any `json:"languages,omitempty"`
	SourceDocuments     map[string]any `json:"source_documents,omitempty"`
	ProcessingQuality   float64        `json:"processing_quality,omitempty"`
	EnhancementStatus   string         `json:"enhancement_status,omitempty"`
	Notes               string         `json:"notes,omitempty"`
	CreatedAt           string         `json:"created_at,omitempty"`
	UpdatedAt           string         `json:"updated_at,omitempty"`
}

// RawSkills returns the flat skill list stored under skills.raw_skills.
func (p *Profile) RawSkills() []string {
	if p == nil {
		return nil
	}
	return stringList(p.Skills["raw_skills"])
}

func (r *Resumes) Len() int {
	return len(r.Items)
}

func (r *Resumes) Names() []string {
	names := make([]string, 0, len(r.Items))

	for _, v := range r.Items {
		names = append(names, v.Name)
	}

	return names
}

func (r *Resumes) FindByID(id int64) *Resume {
	for _, resume := range r.Items {
		if resume.ID == id {
			return resume
		}
	}

	return nil
}

// Newest returns the items ordered by creation time, latest first.
func (r *Resumes) Newest() []*Resume {
	items := append([]*Resume(nil), r.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt > items[j].CreatedAt
	})
	return items
}

// MyResumes lists resumes owned by the authenticated user.
func (c *Client) MyResumes(ctx context.Context) (*Resumes, error) {
	var resumes Resumes
	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "my-resumes"), nil, &resumes); err != nil {
		return nil, err
	}

	if resumes.Count == 0 {
		resumes.Count = len(resumes.Items)
	}

	return &resumes, nil
}

// Resumes queries the public listing.
func (c *Client) Resumes(ctx context.Context, filter ResumeFilter) (*Resumes, error) {
	var resp struct {
		Resumes   []*Resume `json:"resumes"`
		TotalInDB int       `json:"total_in_db"`
		Returned  int       `json:"returned"`
	}

	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "resumes"), filter.values(), &resp); err != nil {
		return nil, err
	}

	return &Resumes{Items: resp.Resumes, Count: len(resp.Resumes)}, nil
}

// GetResume fetches one resume from the public listing.
func (c *Client) GetResume(ctx context.Context, id int64) (*Resume, error) {
	if id <= 0 {
		return nil, errors.New("resume id is required")
	}

	var resp struct {
		Success           bool    `json:"success"`
		Resume            *Resume `json:"resume"`
		UserAuthenticated bool    `json:"user_authenticated"`
	}

	path := c.endpoint(c.APIURL, "resumes", strconv.FormatInt(id, 10))
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Resume == nil {
		return nil, fmt.Errorf("backend returned no resume %d", id)
	}

	return resp.Resume, nil
}

// SearchResumesBySkill lists every resume mentioning skill.
func (c *Client) SearchResumesBySkill(ctx context.Context, skill string) (*Resumes, error) {
	skill = strings.TrimSpace(skill)
	if skill == "" {
		return nil, errors.New("skill is required")
	}

	var resp struct {
		SkillSearched string    `json:"skill_searched"`
		Resumes       []*Resume `json:"resumes"`
		Count         int       `json:"count"`
	}

	q := url.Values{"skill": {skill}}
	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "resumes", "search", "skills"), q, &resp); err != nil {
		return nil, err
	}

	return &Resumes{Items: resp.Resumes, Count: len(resp.Resumes)}, nil
}

func (c *Client) CreateResume(ctx context.Context, resume NewResume) (*Resume, error) {
	if resume.Name == "" {
		return nil, errors.New("resume name is required")
	}

	var resp struct {
		Success bool    `json:"success"`
		Resume  *Resume `json:"resume"`
		Message string  `json:"message"`
	}

	if err := c.doJSON(ctx, http.MethodPost, c.endpoint(c.APIURL, "resumes"), nil, resume, &resp); err != nil {
		return nil, err
	}
	if resp.Resume == nil {
		return nil, errors.New("backend returned no resume")
	}

	return resp.Resume, nil
}

func (c *Client) DeleteResume(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("resume id is required")
	}

	path := c.endpoint(c.APIURL, "resumes", strconv.FormatInt(id, 10))
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// MyProfile returns the authenticated user's profile, or nil when none exists yet.
func (c *Client) MyProfile(ctx context.Context) (*Profile, error) {
	var resp struct {
		Profile   *Profile `json:"profile"`
		UserEmail string   `json:"user_email"`
		Message   string   `json:"message"`
	}

	if err := c.getJSON(ctx, c.endpoint(c.APIURL, "my-profile"), nil, &resp); err != nil {
		return nil, err
	}

	return resp.Profile, nil
}

// UpdateProfile sends a partial update of the profile. Keys follow the
// profile's json names.
func (c *Client) UpdateProfile(ctx context.Context, changes map[string]any) (*Profile, error) {
	if len(changes) == 0 {
		return nil, errors.New("no profile changes")
	}

	var resp struct {
		Success bool     `json:"success"`
		Profile *Profile `json:"profile"`
		Message string   `json:"message"`
	}

	if err := c.doJSON(ctx, http.MethodPatch, c.endpoint(c.APIURL, "my-profile"), nil, changes, &resp); err != nil {
		return nil, err
	}
	if resp.Profile == nil {
		return nil, errors.New(utils.FirstNonEmpty(resp.Message, "backend returned no profile"))
	}

	return resp.Profile, nil
}

// ClearProfile removes the profile and every resume attached to it.
func (c *Client) ClearProfile(ctx context.Context) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}

	if err := c.doJSON(ctx, http.MethodDelete, c.endpoint(c.APIURL, "clear-profile"), nil, nil, &resp); err != nil {
		return "", err
	}

	return resp.Message, nil
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

package services

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"quest-hunt-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrNoTeam          = errors.New("user has no team")
	ErrNotCaptain      = errors.New("only the captain can do this")
	ErrNotMember       = errors.New("user is not a member of this team")
	ErrTeamNotFull     = errors.New("team is not full yet")
	ErrTeamStarted     = errors.New("team already started")
	ErrRenameUsed      = errors.New("rename already used")
	ErrNameTaken       = errors.New("team name already exists")
	ErrNameTooShort    = errors.New("name is too short")
	ErrDefaultTeamName = errors.New("set a custom team name first")
)

var defaultTeamName = regexp.MustCompile(`^Team #\d+$`)

// TeamService is the team registry: registration, rosters, captains and the
// one-time rename. The progress engine only consumes team existence and the
// tag → team resolution from here.
type TeamService struct {
	DB       *gorm.DB
	TeamSize int
}

func NewTeamService(db *gorm.DB) *TeamService {
	size := 7
	if v := os.Getenv("TEAM_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	return &TeamService{DB: db, TeamSize: size}
}

// normPhone strips formatting and canonicalizes local 8XXXXXXXXXX numbers
// to +7.
func normPhone(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range s {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s = b.String()
	if strings.HasPrefix(s, "8") && len(s) == 11 {
		s = "+7" + s[1:]
	}
	if len(s) == 11 && s[0] == '7' && !strings.Contains(s, "+") {
		s = "+" + s
	}
	return s
}

// RegisterResult is what registration returns to the bot.
type RegisterResult struct {
	UserID   string `json:"user_id"`
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
}

// RegisterOrAssign matches or creates the user and fills the earliest open
// team; when every team is full (or locked) a fresh "Team #N" is created.
// The captain is assigned automatically once a team fills up.
func (s *TeamService) RegisterOrAssign(tgID, phone, firstName string) (*RegisterResult, error) {
	phone = normPhone(phone)

	var result *RegisterResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		err := tx.Where("tg_id = ?", tgID).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Pre-imported participants are matched by phone and linked to
			// their messenger identity on first contact
			err = tx.Where("phone = ?", phone).First(&user).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				user = models.User{
					ID:        uuid.NewString(),
					TgID:      tgID,
					Phone:     phone,
					FirstName: firstName,
					LastName:  firstName,
					IsActive:  true,
				}
				if err := tx.Create(&user).Error; err != nil {
					return err
				}
			} else if err != nil {
				return err
			} else {
				user.TgID = tgID
				user.FirstName = firstName
				if user.LastName == "" {
					user.LastName = firstName
				}
				if err := tx.Save(&user).Error; err != nil {
					return err
				}
			}
		} else if err != nil {
			return err
		}

		var member models.TeamMember
		err = tx.Where("user_id = ?", user.ID).First(&member).Error
		var team *models.Team
		if errors.Is(err, gorm.ErrRecordNotFound) {
			team, err = s.nextOpenTeam(tx)
			if err != nil {
				return err
			}
			member = models.TeamMember{
				ID:     uuid.NewString(),
				TeamID: team.ID,
				UserID: user.ID,
				Role:   models.RolePlayer,
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
			s.ensureCaptainIfFull(tx, team.ID)
		} else if err != nil {
			return err
		} else {
			team = &models.Team{}
			if err := tx.First(team, "id = ?", member.TeamID).Error; err != nil {
				return err
			}
		}

		result = &RegisterResult{UserID: user.ID, TeamID: team.ID, TeamName: team.Name}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImportReport summarizes one bulk participant load.
type ImportReport struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ImportParticipants bulk-loads the signup sheet: a CSV of phone,first_name
// rows (a header row is tolerated — it normalizes to an empty phone and is
// skipped). Imported users carry a "pending:<phone>" placeholder tg id until
// they message the bot, where RegisterOrAssign links the real identity by
// phone. Rows whose phone already exists are skipped, so re-uploading the same
// sheet is safe.
func (s *TeamService) ImportParticipants(r io.Reader) (*ImportReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	report := &ImportReport{}
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if len(row) == 0 {
			continue
		}
		phone := normPhone(row[0])
		if phone == "" {
			continue
		}
		firstName := ""
		if len(row) > 1 {
			firstName = strings.TrimSpace(row[1])
		}

		var existing models.User
		err = s.DB.Where("phone = ?", phone).First(&existing).Error
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}

		user := models.User{
			ID:        uuid.NewString(),
			TgID:      "pending:" + phone,
			Phone:     phone,
			FirstName: firstName,
			LastName:  firstName,
			IsActive:  true,
		}
		if err := s.DB.Create(&user).Error; err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		report.Created++
	}

	log.Printf("📥 Imported %d participant(s), skipped %d already known", report.Created, report.Skipped)
	return report, nil
}

// MemberByTag resolves a participant's identity into their user, membership
// and team.
func (s *TeamService) MemberByTag(tgID string) (*models.User, *models.TeamMember, *models.Team, error) {
	var user models.User
	if err := s.DB.Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, ErrUserNotFound
		}
		return nil, nil, nil, err
	}

	var member models.TeamMember
	if err := s.DB.Where("user_id = ?", user.ID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &user, nil, nil, ErrNoTeam
		}
		return nil, nil, nil, err
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", member.TeamID).Error; err != nil {
		return nil, nil, nil, err
	}
	return &user, &member, &team, nil
}

// CaptainByTag is MemberByTag plus the captain check used by every
// scan-adjacent endpoint.
func (s *TeamService) CaptainByTag(tgID string) (*models.User, *models.Team, error) {
	user, member, team, err := s.MemberByTag(tgID)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(member.Role, models.RoleCaptain) {
		return nil, nil, ErrNotCaptain
	}
	return user, team, nil
}

// TeamMemberInfo is a roster line.
type TeamMemberInfo struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	TgID      string `json:"tg_id,omitempty"`
}

// TeamView is the full roster shape shared by the bot and the admin console.
type TeamView struct {
	TeamID     string           `json:"team_id"`
	TeamName   string           `json:"team_name"`
	IsLocked   bool             `json:"is_locked"`
	CanRename  bool             `json:"can_rename"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Captain    *TeamMemberInfo  `json:"captain,omitempty"`
	Members    []TeamMemberInfo `json:"members"`
}

// Roster returns the caller's team with its members.
func (s *TeamService) Roster(tgID string) (*TeamView, error) {
	_, _, team, err := s.MemberByTag(tgID)
	if err != nil {
		return nil, err
	}
	return s.dumpTeam(team)
}

func (s *TeamService) dumpTeam(team *models.Team) (*TeamView, error) {
	var members []models.TeamMember
	if err := s.DB.Where("team_id = ?", team.ID).
		Order("created_at ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}

	view := &TeamView{
		TeamID:     team.ID,
		TeamName:   team.Name,
		IsLocked:   team.IsLocked,
		CanRename:  team.CanRename,
		StartedAt:  team.StartedAt,
		FinishedAt: team.FinishedAt,
		Members:    []TeamMemberInfo{},
	}

	for _, m := range members {
		var u models.User
		if err := s.DB.First(&u, "id = ?", m.UserID).Error; err != nil {
			continue
		}
		info := TeamMemberInfo{
			UserID:    u.ID,
			Role:      m.Role,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Phone:     u.Phone,
			TgID:      u.TgID,
		}
		view.Members = append(view.Members, info)
		if strings.EqualFold(m.Role, models.RoleCaptain) {
			captain := info
			view.Captain = &captain
		}
	}
	return view, nil
}

// Rename lets the captain set a custom name once: only while the team is full
// and before the quest starts.
func (s *TeamService) Rename(tgID, newName string) (*models.Team, error) {
	_, team, err := s.CaptainByTag(tgID)
	if err != nil {
		return nil, err
	}

	full, err := s.teamIsFull(s.DB, team.ID)
	if err != nil {
		return nil, err
	}
	if !full {
		return nil, ErrTeamNotFull
	}
	if team.StartedAt != nil {
		return nil, ErrTeamStarted
	}
	if !team.CanRename {
		return nil, ErrRenameUsed
	}

	newName = strings.TrimSpace(newName)
	if len([]rune(newName)) < 2 {
		return nil, ErrNameTooShort
	}

	var count int64
	if err := s.DB.Model(&models.Team{}).
		Where("name = ? AND id <> ?", newName, team.ID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrNameTaken
	}

	team.Name = newName
	team.CanRename = false
	if err := s.DB.Save(team).Error; err != nil {
		return nil, err
	}
	return team, nil
}

// StartQuest lets the captain start their team's run. Requires a full team
// and a custom name (the rename right must be spent or waived). Starting an
// already-started team is a no-op reported via the bool.
func (s *TeamService) StartQuest(tgID string) (*models.Team, bool, error) {
	_, team, err := s.CaptainByTag(tgID)
	if err != nil {
		return nil, false, err
	}

	if team.StartedAt != nil {
		return team, true, nil
	}

	full, err := s.teamIsFull(s.DB, team.ID)
	if err != nil {
		return nil, false, err
	}
	if !full {
		return nil, false, ErrTeamNotFull
	}
	if defaultTeamName.MatchString(team.Name) && team.CanRename {
		return nil, false, ErrDefaultTeamName
	}

	now := time.Now().UTC()
	res := s.DB.Model(&models.Team{}).
		Where("id = ? AND started_at IS NULL", team.ID).
		Update("started_at", now)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Raced another start; treat as already started
		fresh := &models.Team{}
		if err := s.DB.First(fresh, "id = ?", team.ID).Error; err != nil {
			return nil, false, err
		}
		return fresh, true, nil
	}
	team.StartedAt = &now
	log.Printf("🚀 Team %s started the quest", team.Name)
	return team, false, nil
}

// ---- admin operations ----

func (s *TeamService) AdminListTeams() ([]TeamView, error) {
	var teams []models.Team
	if err := s.DB.Order("created_at ASC").Find(&teams).Error; err != nil {
		return nil, err
	}
	views := make([]TeamView, 0, len(teams))
	for i := range teams {
		v, err := s.dumpTeam(&teams[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// LockAll closes registration everywhere and assigns captains to any team
// that filled up without one.
func (s *TeamService) LockAll() error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var teams []models.Team
		if err := tx.Find(&teams).Error; err != nil {
			return err
		}
		for _, t := range teams {
			if err := tx.Model(&models.Team{}).Where("id = ?", t.ID).Update("is_locked", true).Error; err != nil {
				return err
			}
			s.ensureCaptainIfFull(tx, t.ID)
		}
		return nil
	})
}

func (s *TeamService) UnlockAll() error {
	return s.DB.Model(&models.Team{}).Where("1 = 1").Update("is_locked", false).Error
}

// SetCaptain demotes the current captain (if any) and promotes the given
// member.
func (s *TeamService) SetCaptain(teamID, userID, tgID string) (*TeamView, error) {
	var user models.User
	q := s.DB
	if userID != "" {
		q = q.Where("id = ?", userID)
	} else {
		q = q.Where("tg_id = ?", tgID)
	}
	if err := q.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var member models.TeamMember
	if err := s.DB.Where("team_id = ? AND user_id = ?", teamID, user.ID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.TeamMember{}).
			Where("team_id = ? AND role = ?", teamID, models.RoleCaptain).
			Update("role", models.RolePlayer).Error; err != nil {
			return err
		}
		return tx.Model(&models.TeamMember{}).
			Where("id = ?", member.ID).
			Update("role", models.RoleCaptain).Error
	})
	if err != nil {
		return nil, err
	}

	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		return nil, err
	}
	return s.dumpTeam(&team)
}

func (s *TeamService) UnsetCaptain(teamID string) (*TeamView, error) {
	if err := s.DB.Model(&models.TeamMember{}).
		Where("team_id = ? AND role = ?", teamID, models.RoleCaptain).
		Update("role", models.RolePlayer).Error; err != nil {
		return nil, err
	}
	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	return s.dumpTeam(&team)
}

// MoveMember reassigns a user to another team (optionally as its captain).
func (s *TeamService) MoveMember(userID, tgID, destTeamID string, makeCaptain bool) (*TeamView, error) {
	var user models.User
	q := s.DB
	if userID != "" {
		q = q.Where("id = ?", userID)
	} else {
		q = q.Where("tg_id = ?", tgID)
	}
	if err := q.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	var member models.TeamMember
	if err := s.DB.Where("user_id = ?", user.ID).First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoTeam
		}
		return nil, err
	}

	var dest models.Team
	if err := s.DB.First(&dest, "id = ?", destTeamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}

	role := models.RolePlayer
	if makeCaptain {
		role = models.RoleCaptain
	}
	if err := s.DB.Model(&models.TeamMember{}).
		Where("id = ?", member.ID).
		Updates(map[string]interface{}{"team_id": dest.ID, "role": role}).Error; err != nil {
		return nil, err
	}
	return s.dumpTeam(&dest)
}

// TeamUpdateIn is the admin patch for a team.
type TeamUpdateIn struct {
	Name      *string `json:"name"`
	IsLocked  *bool   `json:"is_locked"`
	CanRename *bool   `json:"can_rename"`
}

func (s *TeamService) UpdateTeam(teamID string, in TeamUpdateIn) (*TeamView, error) {
	var team models.Team
	if err := s.DB.First(&team, "id = ?", teamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if len([]rune(name)) < 2 {
			return nil, ErrNameTooShort
		}
		var count int64
		if err := s.DB.Model(&models.Team{}).
			Where("name = ? AND id <> ?", name, team.ID).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrNameTaken
		}
		team.Name = name
	}
	if in.IsLocked != nil {
		team.IsLocked = *in.IsLocked
	}
	if in.CanRename != nil {
		team.CanRename = *in.CanRename
	}

	if err := s.DB.Save(&team).Error; err != nil {
		return nil, err
	}
	return s.dumpTeam(&team)
}

// ---- helpers ----

func (s *TeamService) memberCount(tx *gorm.DB, teamID string) (int64, error) {
	var n int64
	err := tx.Model(&models.TeamMember{}).Where("team_id = ?", teamID).Count(&n).Error
	return n, err
}

func (s *TeamService) teamIsFull(tx *gorm.DB, teamID string) (bool, error) {
	n, err := s.memberCount(tx, teamID)
	if err != nil {
		return false, err
	}
	return n >= int64(s.TeamSize), nil
}

// ensureCaptainIfFull promotes the earliest member once the team is full and
// no captain exists yet. Best-effort.
func (s *TeamService) ensureCaptainIfFull(tx *gorm.DB, teamID string) {
	full, err := s.teamIsFull(tx, teamID)
	if err != nil || !full {
		return
	}

	var captains int64
	if err := tx.Model(&models.TeamMember{}).
		Where("team_id = ? AND role = ?", teamID, models.RoleCaptain).
		Count(&captains).Error; err != nil || captains > 0 {
		return
	}

	var first models.TeamMember
	if err := tx.Where("team_id = ?", teamID).Order("created_at ASC").First(&first).Error; err != nil {
		return
	}
	if err := tx.Model(&models.TeamMember{}).
		Where("id = ?", first.ID).
		Update("role", models.RoleCaptain).Error; err == nil {
		log.Printf("👑 Auto-assigned captain for team %s", teamID)
	}
}

// nextOpenTeam returns the earliest unlocked team with a free slot, creating
// "Team #N" when none exists.
func (s *TeamService) nextOpenTeam(tx *gorm.DB) (*models.Team, error) {
	var teams []models.Team
	if err := tx.Where("is_locked = ?", false).Order("created_at ASC").Find(&teams).Error; err != nil {
		return nil, err
	}
	for i := range teams {
		n, err := s.memberCount(tx, teams[i].ID)
		if err != nil {
			return nil, err
		}
		if n < int64(s.TeamSize) {
			return &teams[i], nil
		}
	}

	var total int64
	if err := tx.Model(&models.Team{}).Count(&total).Error; err != nil {
		return nil, err
	}
	team := &models.Team{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("Team #%d", total+1),
		CanRename: true,
	}
	if err := tx.Create(team).Error; err != nil {
		return nil, err
	}
	return team, nil
}

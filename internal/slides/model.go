package slides

// ShareScope enumerates how much of a presentation a share exposes.
type ShareScope string

const (
	// ShareScopePresentation grants access to every slide in the presentation.
	ShareScopePresentation ShareScope = "presentation"
	// ShareScopeSlide grants access to exactly one slide.
	ShareScopeSlide ShareScope = "slide"
)

// SharePermission enumerates what a share grant allows.
type SharePermission string

const (
	// SharePermissionEdit allows content edits; structural edits depend on scope.
	SharePermissionEdit SharePermission = "edit"
	// SharePermissionView allows read-only access.
	SharePermissionView SharePermission = "view"
)

// Presentation is the durable root record owning an ordered slide collection.
type Presentation struct {
	ID               string `gorm:"column:presentation_id;primaryKey;size:190;not null"`
	Title            string `gorm:"column:title;size:512;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_presentations_owner"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_presentations_owner,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Presentation) TableName() string {
	return "presentations"
}

// Slide is the durable slide identity row. Position is dense and zero based
// within a presentation; the unique index is what forces the two-phase
// rewrite during batch permutations.
type Slide struct {
	ID               string `gorm:"column:slide_id;primaryKey;size:190;not null"`
	PresentationID   string `gorm:"column:presentation_id;size:190;not null;uniqueIndex:idx_slides_presentation_position,priority:1"`
	Position         int    `gorm:"column:position;not null;uniqueIndex:idx_slides_presentation_position,priority:2"`
	ContentJSON      string `gorm:"column:content;type:text;not null;default:'{}'"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Slide) TableName() string {
	return "slides"
}

// Share is a capability grant addressing a presentation or a single slide.
type Share struct {
	ShareID          string          `gorm:"column:share_id;primaryKey;size:190;not null"`
	PresentationID   string          `gorm:"column:presentation_id;size:190;not null;index:idx_shares_presentation"`
	SlideID          *string         `gorm:"column:slide_id;size:190"`
	Scope            ShareScope      `gorm:"column:scope;size:32;not null"`
	Permission       SharePermission `gorm:"column:permission;size:32;not null"`
	ExpiresAtSeconds *int64          `gorm:"column:expires_at_s"`
	CreatedAtSeconds int64           `gorm:"column:created_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Share) TableName() string {
	return "shares"
}

package enroll

import (
	"context"
	"strings"
	"unicode"
)

const defaultSectionType = "SEC"

// BuildTitle renders "<Subject> <Catalog> - <ParentType> <ParentNum> - <ChildType> <ChildNum>"
// for a linked lecture/lab style package, or "<Subject> <Catalog> - <Type> <Num>"
// otherwise. siblings are the other packages returned for the same course.
func BuildTitle(subjectName string, pkg Package, siblings []Package) string {
	base := strings.TrimSpace(subjectName + " " + strings.TrimSpace(pkg.CatalogNumber))

	child := ownSection(pkg)
	if child == nil {
		return base
	}

	if parent := parentSection(pkg, child, siblings); parent != nil && linked(parent, child) {
		return base + " - " + label(parent) + " - " + label(child)
	}
	return base + " - " + label(child)
}

// ownSection is the section the package enrolls into: the one matching the
// enrollment class number, else the first section.
func ownSection(pkg Package) *Section {
	if len(pkg.Sections) == 0 {
		return nil
	}
	classNbr := pkg.ClassNumber()
	for i := range pkg.Sections {
		if string(pkg.Sections[i].ClassUniqueID.ClassNumber) == classNbr {
			return &pkg.Sections[i]
		}
	}
	return &pkg.Sections[0]
}

// parentSection finds the section that auto-enrolls alongside child. An
// explicit auto-enroll class is searched across the package and its siblings;
// without one, a multi-section package's first other section is the parent.
func parentSection(pkg Package, child *Section, siblings []Package) *Section {
	if len(pkg.AutoEnrollClasses) > 0 {
		want := pkg.AutoEnrollClasses[0]
		if s := findSection(pkg.Sections, want); s != nil {
			return s
		}
		for _, sib := range siblings {
			if s := findSection(sib.Sections, want); s != nil {
				return s
			}
		}
		return nil
	}

	if len(pkg.Sections) < 2 {
		return nil
	}
	for i := range pkg.Sections {
		s := &pkg.Sections[i]
		if s != child && s.ClassUniqueID.ClassNumber != child.ClassUniqueID.ClassNumber {
			return s
		}
	}
	return nil
}

func findSection(sections []Section, classNbr ClassNumber) *Section {
	for i := range sections {
		if sections[i].ClassUniqueID.ClassNumber == classNbr {
			return &sections[i]
		}
	}
	return nil
}

// linked reports a lecture parent with a lab, discussion or lecture child.
func linked(parent, child *Section) bool {
	if sectionType(parent) != "LEC" {
		return false
	}
	switch sectionType(child) {
	case "LAB", "DIS", "LEC":
		return true
	}
	return false
}

func sectionType(s *Section) string {
	t := strings.ToUpper(strings.TrimSpace(s.Type))
	if t == "" {
		return defaultSectionType
	}
	return t
}

func label(s *Section) string {
	return strings.TrimSpace(sectionType(s) + " " + strings.TrimSpace(s.SectionNumber))
}

// SubjectResolver maps a subject code to its display name.
type SubjectResolver interface {
	Name(ctx context.Context, code string) string
}

// RepairTitle puts the subject name back on a title that starts with a digit,
// which means it was built without one.
func RepairTitle(ctx context.Context, subjects SubjectResolver, subjectCode, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return title
	}
	first := []rune(title)[0]
	if !unicode.IsDigit(first) {
		return title
	}
	name := subjects.Name(ctx, subjectCode)
	if name == "" {
		name = subjectCode
	}
	if name == "" {
		return title
	}
	return name + " " + title
}
